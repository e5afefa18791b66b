// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// medianTimeBlocks is the number of previous blocks which should be
// used to calculate the median time used to validate block timestamps.
const medianTimeBlocks = 11

// blockNode represents a block within the block chain and is primarily used
// to aid in selecting the best chain to be the main chain.  The main chain is
// stored into the block database.
type blockNode struct {
	// parent is the parent block for this node.
	parent *blockNode

	// bestChild is the child on the best chain, nil for the tip and for
	// side-chain nodes.
	bestChild *blockNode

	// hash is the double sha 256 of the block.
	hash chainhash.Hash

	// workSum is the total amount of work in the chain up to and including
	// this node.
	workSum *big.Int

	// height is the position in the block chain.
	height int32

	// file and blockPos locate the serialized block on disk.
	file     uint32
	blockPos uint32

	// Some fields from block headers to aid in best chain selection and
	// reconstructing headers from memory.  These must be treated as
	// immutable and are intentionally ordered to avoid padding on 64-bit
	// platforms.
	version    int32
	bits       uint32
	nonce      uint32
	timestamp  int64
	merkleRoot chainhash.Hash
}

// initBlockNode initializes a block node from the given header, disk position
// and parent node.  The work sum is updated accordingly.
//
// This function is NOT safe for concurrent access.  It must only be called
// when initially creating a node.
func initBlockNode(node *blockNode, blockHeader *wire.BlockHeader, parent *blockNode) {
	*node = blockNode{
		hash:       blockHeader.BlockHash(),
		workSum:    pow.CalcWork(blockHeader.Bits),
		version:    blockHeader.Version,
		bits:       blockHeader.Bits,
		nonce:      blockHeader.Nonce,
		timestamp:  blockHeader.Timestamp.Unix(),
		merkleRoot: blockHeader.MerkleRoot,
	}
	if parent != nil {
		node.parent = parent
		node.height = parent.height + 1
		node.workSum = node.workSum.Add(parent.workSum, node.workSum)
	}
}

// newBlockNode returns a new block node for the given block header and parent
// node, calculating the height and workSum from the respective fields on the
// parent.
func newBlockNode(blockHeader *wire.BlockHeader, parent *blockNode) *blockNode {
	var node blockNode
	initBlockNode(&node, blockHeader, parent)
	return &node
}

// Header constructs a block header from the node and returns it.
//
// This function is safe for concurrent access.
func (node *blockNode) Header() wire.BlockHeader {
	// No lock is needed because all accessed fields are immutable.
	prevHash := &chainhash.Hash{}
	if node.parent != nil {
		prevHash = &node.parent.hash
	}
	return wire.BlockHeader{
		Version:    node.version,
		PrevBlock:  *prevHash,
		MerkleRoot: node.merkleRoot,
		Timestamp:  time.Unix(node.timestamp, 0),
		Bits:       node.bits,
		Nonce:      node.nonce,
	}
}

// Ancestor returns the ancestor block node at the provided height by
// following the chain backwards from this node.  The returned block will be
// nil when a height is requested that is after the height of the passed node
// or is less than zero.
//
// This function is safe for concurrent access.
func (node *blockNode) Ancestor(height int32) *blockNode {
	if height < 0 || height > node.height {
		return nil
	}

	n := node
	for ; n != nil && n.height != height; n = n.parent {
		// Intentionally left blank
	}

	return n
}

// RelativeAncestor returns the ancestor block node a relative 'distance'
// blocks before this node.  This is equivalent to calling Ancestor with the
// node's height minus provided distance.
//
// This function is safe for concurrent access.
func (node *blockNode) RelativeAncestor(distance int32) *blockNode {
	return node.Ancestor(node.height - distance)
}

// CalcPastMedianTime calculates the median time of the previous few blocks
// prior to, and including, the block node.
//
// This function is safe for concurrent access.
func (node *blockNode) CalcPastMedianTime() time.Time {
	// Create a slice of the previous few block timestamps used to calculate
	// the median per the number defined by the constant medianTimeBlocks.
	timestamps := make([]int64, medianTimeBlocks)
	numNodes := 0
	iterNode := node
	for i := 0; i < medianTimeBlocks && iterNode != nil; i++ {
		timestamps[i] = iterNode.timestamp
		numNodes++

		iterNode = iterNode.parent
	}

	// Prune the slice to the actual number of available timestamps which
	// will be fewer than desired near the beginning of the block chain
	// and sort them.
	timestamps = timestamps[:numNodes]
	sort.Sort(int64Sorter(timestamps))

	// The median time is the middle of the sorted timestamps, matching the
	// original implementation's choice of the upper-middle element for an
	// even count.
	medianTimestamp := timestamps[numNodes/2]
	return time.Unix(medianTimestamp, 0)
}

// CalcAverageTimePast computes the damped average of the last n block time
// stamps ending at this node, where each successive time stamp counts as at
// least the previous plus minDelay seconds.  It returns zero when fewer than
// n blocks are available, matching the fail-safe of the original future
// travel detector.
func (node *blockNode) CalcAverageTimePast(n int, minDelay int64) int64 {
	if n <= 0 {
		return 0
	}

	stamps := make([]int64, n)
	iterNode := node
	for i := n; i > 0 && iterNode != nil; i-- {
		stamps[i-1] = iterNode.timestamp
		iterNode = iterNode.parent
	}

	// Not enough input blocks.
	if stamps[0] == 0 {
		return 0
	}

	// Time travel aware accumulator: each sample is raised to at least the
	// running value plus the minimal delay to discount bursts of extremely
	// fast blocks.
	tempTime := stamps[0]
	accum := tempTime
	for i := 1; i < n; i++ {
		if stamps[i] < tempTime+minDelay {
			tempTime += minDelay
		} else {
			tempTime = stamps[i]
		}
		accum += tempTime
	}

	return accum / int64(n)
}

// blockIndex provides facilities for keeping track of an in-memory index of
// the block chain.  Although the name block chain suggests a single chain of
// blocks, it is actually a tree-shaped structure where any node can have
// multiple children.  However, there can only be one active branch which does
// indeed form a chain from the tip all the way back to the genesis block.
type blockIndex struct {
	sync.RWMutex
	index map[chainhash.Hash]*blockNode
}

// newBlockIndex returns a new empty instance of a block index.  The index
// will be dynamically populated as block nodes are loaded from the database
// and manually added.
func newBlockIndex() *blockIndex {
	return &blockIndex{
		index: make(map[chainhash.Hash]*blockNode),
	}
}

// HaveBlock returns whether or not the block index contains the provided
// hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) HaveBlock(hash *chainhash.Hash) bool {
	bi.RLock()
	_, hasBlock := bi.index[*hash]
	bi.RUnlock()
	return hasBlock
}

// LookupNode returns the block node identified by the provided hash.  It will
// return nil if there is no entry for the hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) LookupNode(hash *chainhash.Hash) *blockNode {
	bi.RLock()
	node := bi.index[*hash]
	bi.RUnlock()
	return node
}

// AddNode adds the provided node to the block index.  Duplicate entries are
// not checked so it is up to the caller to avoid adding them.
//
// This function is safe for concurrent access.
func (bi *blockIndex) AddNode(node *blockNode) {
	bi.Lock()
	bi.index[node.hash] = node
	bi.Unlock()
}

// record converts the node into its persistent form.
func (node *blockNode) record() *blockdb.BlockIndexRecord {
	return &blockdb.BlockIndexRecord{
		Header:   node.Header(),
		Height:   node.height,
		File:     node.file,
		BlockPos: node.blockPos,
	}
}
