// Copyright (c) 2013-2018 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// maxOrphanBlocks is the maximum number of orphan blocks that can be queued.
const maxOrphanBlocks = 750

// BlockLocator is used to help locate a specific block.  The algorithm for
// building the block locator is to add the hashes in reverse order until
// the genesis block is reached.  In order to keep the list of locator hashes
// to a reasonable number of entries, first the most recent previous 10 block
// hashes are added, then the step is doubled each loop iteration to
// exponentially decrease the number of hashes as a function of the distance
// from the block being located.
type BlockLocator []*chainhash.Hash

// orphanBlock represents a block that we don't yet have the parent for.  It
// is a normal block plus an expiration time to prevent caching the orphan
// forever.
type orphanBlock struct {
	block      *phxutil.Block
	expiration time.Time
}

// BestState houses information about the current best block and other info
// related to the state of the main chain as it exists from the point of view
// of the current best block.
//
// The BestSnapshot method can be used to obtain access to this information
// in a concurrent safe manner and the data will not be changed out from under
// the caller when chain state changes occur as the function name implies.
// However, the returned snapshot must be treated as immutable since it is
// shared by all callers.
type BestState struct {
	Hash       chainhash.Hash // The hash of the block.
	Height     int32          // The height of the block.
	Bits       uint32         // The difficulty bits of the block.
	BlockSize  uint64         // The size of the block.
	NumTxns    uint64         // The number of txns in the block.
	MedianTime time.Time      // Median time as per CalcPastMedianTime.
	WorkSum    *big.Int       // The cumulative chain work.
}

// newBestState returns a new best stats instance for the given parameters.
func newBestState(node *blockNode, blockSize, numTxns uint64, medianTime time.Time) *BestState {
	return &BestState{
		Hash:       node.hash,
		Height:     node.height,
		Bits:       node.bits,
		BlockSize:  blockSize,
		NumTxns:    numTxns,
		MedianTime: medianTime,
		WorkSum:    new(big.Int).Set(node.workSum),
	}
}

// Config is a descriptor which specifies the blockchain instance
// configuration.
type Config struct {
	// Store defines the block store which houses the blocks and the
	// transaction index.
	//
	// This field is required.
	Store *blockdb.Store

	// ChainParams identifies which chain parameters the chain is
	// associated with.
	//
	// This field is required.
	ChainParams *chaincfg.Params

	// TimeSource defines the median time source to use for things such as
	// block processing and determining whether or not the chain is current.
	TimeSource MedianTimeSource

	// ScriptVerifier is the opaque script interpreter used for signature
	// verification.
	ScriptVerifier txscript.Verifier

	// CheckpointMode selects how failures against the synchronized
	// checkpoint are treated.
	CheckpointMode CheckpointMode

	// Notifications defines a callback to which notifications will be
	// sent when various events take place.  See the documentation for
	// Notification and NotificationType for details on the types and
	// contents of notifications.
	Notifications NotificationCallback

	// Logger is the chain logging unit.
	Logger zerolog.Logger
}

// BlockChain provides functions for working with the block chain.  It
// includes functionality such as rejecting duplicate blocks, ensuring blocks
// follow all rules, orphan handling, checkpoint handling, and best chain
// selection with reorganization.
type BlockChain struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	store            *blockdb.Store
	chainParams      *chaincfg.Params
	timeSource       MedianTimeSource
	scriptVerifier   txscript.Verifier
	notifications    NotificationCallback
	logger           zerolog.Logger
	preSwitchHasher  pow.Hasher
	postSwitchHasher pow.Hasher

	// chainLock protects concurrent access to the vast majority of the
	// fields in this struct below this point.
	chainLock sync.RWMutex

	// index houses the entire block index in memory.  The block index is
	// a tree-shaped structure.
	index *blockIndex

	// genesisNode and bestChain track the two ends of the active chain.
	genesisNode *blockNode
	bestChain   *blockNode

	// bestInvalidWork is the highest cumulative work observed on a chain
	// that failed validation.
	bestInvalidWork *big.Int

	// These fields are related to handling of orphan blocks.  They are
	// protected by a combination of the chain lock and the orphan lock.
	orphanLock   sync.RWMutex
	orphans      map[chainhash.Hash]*orphanBlock
	prevOrphans  map[chainhash.Hash][]*orphanBlock
	oldestOrphan *orphanBlock

	// txSource optionally supplies memory pool transactions during input
	// fetching.  It is set once during wiring, before any block or
	// transaction processing starts.
	txSource PoolTxSource

	// syncCheckpoint carries the state of the signed checkpoint
	// subsystem.
	syncCheckpoint syncCheckpointState

	// stateSnapshot caches the latest best state.
	stateSnapshot *BestState

	// The following fields implement the initial block download detector.
	// The heuristic mixes wall-clock and chain-age thresholds which are
	// exposed as configuration because they are timing-sensitive.
	ibdRecheckInterval time.Duration
	ibdMaxTipAge       time.Duration
	ibdLastBestChange  time.Time
}

// New returns a BlockChain instance using the provided configuration details.
func New(config *Config) (*BlockChain, error) {
	if config.Store == nil {
		return nil, errors.New("blockchain.New: store is nil")
	}
	if config.ChainParams == nil {
		return nil, errors.New("blockchain.New: chain parameters nil")
	}
	if config.TimeSource == nil {
		return nil, errors.New("blockchain.New: time source is nil")
	}
	if config.ScriptVerifier == nil {
		return nil, errors.New("blockchain.New: script verifier is nil")
	}

	params := config.ChainParams
	preHasher, err := pow.GetHasher(params.PreSwitchHasher)
	if err != nil {
		return nil, err
	}

	// The post-switch profile is pluggable and resolved leniently: a
	// build without it still serves the pre-switch chain and fails with
	// a clear error once validation reaches the switch height.
	postHasher, err := pow.GetHasher(params.PostSwitchHasher)
	if err != nil {
		postHasher = nil
	}

	b := &BlockChain{
		store:              config.Store,
		chainParams:        params,
		timeSource:         config.TimeSource,
		scriptVerifier:     config.ScriptVerifier,
		notifications:      config.Notifications,
		logger:             config.Logger,
		preSwitchHasher:    preHasher,
		postSwitchHasher:   postHasher,
		index:              newBlockIndex(),
		bestInvalidWork:    big.NewInt(0),
		orphans:            make(map[chainhash.Hash]*orphanBlock),
		prevOrphans:        make(map[chainhash.Hash][]*orphanBlock),
		ibdRecheckInterval: 10 * time.Second,
		ibdMaxTipAge:       4 * time.Hour,
	}
	b.syncCheckpoint.mode = config.CheckpointMode

	if err := b.initChainState(); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("tip", b.bestChain.hash.String()).
		Int32("height", b.bestChain.height).
		Msg("chain state loaded")

	return b, nil
}

// SetTxPool wires the memory pool into input resolution.  It must be called
// during startup before any processing begins.
func (b *BlockChain) SetTxPool(pool PoolTxSource) {
	b.txSource = pool
}

// initChainState loads the block index from the store, or creates the chain
// from the genesis block when the store is fresh.
func (b *BlockChain) initChainState() error {
	bestHash, haveBest, err := b.store.BestChain()
	if err != nil {
		return err
	}

	if !haveBest {
		return b.createChainState()
	}

	// Load every stored block index record into nodes, then link them.
	type pending struct {
		node *blockNode
		prev chainhash.Hash
	}
	byHash := make(map[chainhash.Hash]*pending)
	err = b.store.ForEachBlockIndex(func(hash chainhash.Hash, rec *blockdb.BlockIndexRecord) error {
		node := &blockNode{
			hash:       hash,
			workSum:    pow.CalcWork(rec.Header.Bits),
			height:     rec.Height,
			file:       rec.File,
			blockPos:   rec.BlockPos,
			version:    rec.Header.Version,
			bits:       rec.Header.Bits,
			nonce:      rec.Header.Nonce,
			timestamp:  rec.Header.Timestamp.Unix(),
			merkleRoot: rec.Header.MerkleRoot,
		}
		byHash[hash] = &pending{node: node, prev: rec.Header.PrevBlock}
		return nil
	})
	if err != nil {
		return err
	}

	// Link parents and accumulate work in height order so every parent's
	// work sum is final before its children read it.
	nodes := make([]*pending, 0, len(byHash))
	for _, p := range byHash {
		nodes = append(nodes, p)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].node.height < nodes[j].node.height
	})
	for _, p := range nodes {
		if p.node.height == 0 {
			b.genesisNode = p.node
		} else {
			parent, ok := byHash[p.prev]
			if !ok {
				return blockdbCorrupt(fmt.Sprintf(
					"block index references unknown parent %v", p.prev))
			}
			p.node.parent = parent.node
			p.node.workSum = new(big.Int).Add(parent.node.workSum, p.node.workSum)
		}
		b.index.AddNode(p.node)
	}
	if b.genesisNode == nil {
		return blockdbCorrupt("block index has no genesis node")
	}

	best, ok := byHash[bestHash]
	if !ok {
		return blockdbCorrupt("best chain hash has no index entry")
	}
	b.bestChain = best.node

	// Re-link the best-chain child pointers from the tip back to genesis.
	for node := b.bestChain; node.parent != nil; node = node.parent {
		node.parent.bestChild = node
	}

	invalidWork, err := b.store.BestInvalidWork()
	if err != nil {
		return err
	}
	b.bestInvalidWork = invalidWork

	b.updateBestState(nil)
	return nil
}

// createChainState writes the genesis block and initializes the in-memory
// structures of a fresh chain.
func (b *BlockChain) createChainState() error {
	genesis := phxutil.NewBlock(b.chainParams.GenesisBlock)
	genesis.SetHeight(0)

	file, blockPos, err := b.store.WriteBlock(genesis.MsgBlock())
	if err != nil {
		return err
	}

	node := newBlockNode(&genesis.MsgBlock().Header, nil)
	node.file = file
	node.blockPos = blockPos

	batch := b.store.NewBatch()
	if err := batch.WriteBlockIndex(&node.hash, node.record()); err != nil {
		return err
	}

	// The genesis coinbase gets a tx index entry so the overwrite rule
	// observes it like any other transaction.
	txOffset := uint32(80 + wire.VarIntSerializeSize(1))
	coinbase := genesis.Transactions()[0]
	pos := blockdb.DiskTxPos{File: file, BlockPos: blockPos, TxPos: txOffset}
	batch.UpdateTxIndex(coinbase.Hash(),
		blockdb.NewTxIndexEntry(pos, len(coinbase.MsgTx().TxOut)))

	batch.WriteBestChain(&node.hash)
	if err := batch.Commit(); err != nil {
		return err
	}

	b.index.AddNode(node)
	b.genesisNode = node
	b.bestChain = node
	b.updateBestState(genesis)

	b.logger.Info().Str("hash", node.hash.String()).Msg("created genesis block")
	return nil
}

// bestHeight returns the height of the current tip.  The chain lock must be
// held.
func (b *BlockChain) bestHeight() int32 {
	if b.bestChain == nil {
		return -1
	}
	return b.bestChain.height
}

// updateBestState refreshes the cached snapshot.  The block may be nil when
// reloading at startup.  The chain lock must be held for writes.
func (b *BlockChain) updateBestState(block *phxutil.Block) {
	var blockSize, numTxns uint64
	if block != nil {
		blockSize = uint64(block.MsgBlock().SerializeSize())
		numTxns = uint64(len(block.MsgBlock().Transactions))
	}
	b.stateSnapshot = newBestState(b.bestChain, blockSize, numTxns,
		b.bestChain.CalcPastMedianTime())
	b.ibdLastBestChange = time.Now()
}

// BestSnapshot returns information about the current best chain block and
// related state as of the current point in time.  The returned instance must
// be treated as immutable since it is shared by all callers.
//
// This function is safe for concurrent access.
func (b *BlockChain) BestSnapshot() *BestState {
	b.chainLock.RLock()
	snapshot := b.stateSnapshot
	b.chainLock.RUnlock()
	return snapshot
}

// HaveBlock returns whether or not the chain instance has the block
// represented by the passed hash.  This includes checking the various places
// a block can be like part of the main chain, on a side chain, or in the
// orphan pool.
//
// This function is safe for concurrent access.
func (b *BlockChain) HaveBlock(hash *chainhash.Hash) bool {
	return b.index.HaveBlock(hash) || b.IsKnownOrphan(hash)
}

// MainChainHasBlock reports whether the block is part of the active chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) MainChainHasBlock(hash *chainhash.Hash) bool {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	node := b.index.LookupNode(hash)
	return node != nil && b.mainChainContains(node)
}

// mainChainContains reports whether the node lies on the active chain.  The
// chain lock must be held.
func (b *BlockChain) mainChainContains(node *blockNode) bool {
	return node.bestChild != nil || node == b.bestChain
}

// BlockByHash returns the block from the main chain or a side chain with the
// given hash, loaded from the block files.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockByHash(hash *chainhash.Hash) (*phxutil.Block, error) {
	b.chainLock.RLock()
	node := b.index.LookupNode(hash)
	b.chainLock.RUnlock()
	if node == nil {
		return nil, fmt.Errorf("block %s is not known", hash)
	}
	return b.blockForNode(node)
}

// blockForNode loads a block from disk for the given index node.
func (b *BlockChain) blockForNode(node *blockNode) (*phxutil.Block, error) {
	msgBlock, err := b.store.ReadBlock(node.file, node.blockPos)
	if err != nil {
		return nil, err
	}
	block := phxutil.NewBlock(msgBlock)
	block.SetHeight(node.height)
	return block, nil
}

// setBestChain commits the chain whose tip is node, performing a
// reorganization when the new tip does not extend the current one.  The
// postponement optimization bounds the amount of work done inside a single
// database batch: everything above the pivot node (the oldest ancestor, the
// one closest to the fork, whose cumulative work still exceeds the current
// tip's) reconnects in
// follow-up batches whose failures no longer invalidate the reorganization.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) setBestChain(block *phxutil.Block, node *blockNode) error {
	switch {
	case node.parent == b.bestChain:
		// Adding to the current best branch.
		batch := b.store.NewBatch()
		if err := b.setBestChainInner(block, node, batch); err != nil {
			return err
		}

	default:
		// The first block in the new chain that causes it to become the
		// new best chain.
		pivot := node

		// List of blocks to connect afterwards, outside the single
		// reorganization batch.
		var secondary []*blockNode
		for pivot.parent != nil && pivot.parent.workSum.Cmp(b.bestChain.workSum) > 0 {
			secondary = append(secondary, pivot)
			pivot = pivot.parent
		}
		if len(secondary) > 0 {
			b.logger.Info().Int("count", len(secondary)).Msg("postponing reconnects")
		}

		if err := b.reorganize(pivot); err != nil {
			b.invalidChainFound(node)
			return err
		}

		// Connect the postponed blocks one batch at a time.  Errors now
		// are not fatal: the reorganization to a valid chain already
		// succeeded.
		for i := len(secondary) - 1; i >= 0; i-- {
			pnode := secondary[i]
			pblock, err := b.blockForNode(pnode)
			if err != nil {
				b.logger.Error().Err(err).Msg("postponed reconnect read failed")
				break
			}
			batch := b.store.NewBatch()
			if err := b.setBestChainInner(pblock, pnode, batch); err != nil {
				b.logger.Error().Err(err).Msg("postponed reconnect failed")
				break
			}
		}
	}

	b.logger.Info().
		Str("best", b.bestChain.hash.String()).
		Int32("height", b.bestChain.height).
		Str("work", b.bestChain.workSum.String()).
		Time("date", time.Unix(b.bestChain.timestamp, 0)).
		Msg("new best chain")

	return nil
}

// setBestChainInner connects a block that extends the current best chain
// inside one durable batch, then advances the in-memory pointers and informs
// the observers.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) setBestChainInner(block *phxutil.Block, node *blockNode,
	batch *blockdb.Batch) error {

	if err := b.connectBlock(block, node, batch, false); err != nil {
		batch.Abort()
		if IsRuleError(err) {
			b.invalidChainFound(node)
		}
		return err
	}
	batch.WriteBestChain(&node.hash)
	if err := batch.Commit(); err != nil {
		return err
	}

	// Add to the current best branch.
	if node.parent != nil {
		node.parent.bestChild = node
	}
	b.bestChain = node
	b.updateBestState(block)

	// Observers delete the block's transactions from the memory pool and
	// relay the inventory.  The callback runs under the chain lock so the
	// tip change and the pool delta are observed atomically.
	b.sendNotification(NTBlockConnected, block)

	return nil
}

// reorganize switches the best chain to the one ending in newTip.  Both
// branches are walked back to the fork node; every block from the current tip
// down to the fork disconnects and every block from the fork up to newTip
// connects, all inside a single durable batch.  On any connect failure the
// batch aborts, leaving both the database and the in-memory index unchanged
// apart from the best-invalid-work statistic.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) reorganize(newTip *blockNode) error {
	b.logger.Info().Msg("REORGANIZE")

	// Find the fork point.
	fork := b.bestChain
	longer := newTip
	for fork != longer {
		for longer.height > fork.height {
			longer = longer.parent
			if longer == nil {
				return blockdbCorrupt("reorganize: new branch disconnected from chain")
			}
		}
		if fork == longer {
			break
		}
		fork = fork.parent
		if fork == nil {
			return blockdbCorrupt("reorganize: active branch disconnected from chain")
		}
	}

	// List of blocks to disconnect from the tip down to the fork.
	var disconnect []*blockNode
	for node := b.bestChain; node != fork; node = node.parent {
		disconnect = append(disconnect, node)
	}

	// List of blocks to connect from the fork up to the new tip.
	var connect []*blockNode
	for node := newTip; node != fork; node = node.parent {
		connect = append(connect, node)
	}
	for i, j := 0, len(connect)-1; i < j; i, j = i+1, j-1 {
		connect[i], connect[j] = connect[j], connect[i]
	}

	b.logger.Info().
		Int("disconnect", len(disconnect)).
		Int("connect", len(connect)).
		Str("fork", fork.hash.String()).
		Msg("reorganize spans")

	batch := b.store.NewBatch()

	// Disconnect the shorter branch, queueing its non-coinbase
	// transactions for resurrection.
	disconnectedBlocks := make([]*phxutil.Block, 0, len(disconnect))
	for _, node := range disconnect {
		block, err := b.blockForNode(node)
		if err != nil {
			batch.Abort()
			return err
		}
		if err := b.disconnectBlock(block, node, batch); err != nil {
			batch.Abort()
			return err
		}
		disconnectedBlocks = append(disconnectedBlocks, block)
	}

	// Connect the longer branch.
	connectedBlocks := make([]*phxutil.Block, 0, len(connect))
	for _, node := range connect {
		block, err := b.blockForNode(node)
		if err != nil {
			batch.Abort()
			return err
		}
		if err := b.connectBlock(block, node, batch, false); err != nil {
			batch.Abort()
			return err
		}
		connectedBlocks = append(connectedBlocks, block)
	}

	batch.WriteBestChain(&newTip.hash)

	// Make sure it's successfully written to disk before changing the
	// memory structures.
	if err := batch.Commit(); err != nil {
		return err
	}

	// Disconnect the shorter branch.
	for _, node := range disconnect {
		if node.parent != nil {
			node.parent.bestChild = nil
		}
	}

	// Connect the longer branch.
	for _, node := range connect {
		if node.parent != nil {
			node.parent.bestChild = node
		}
	}

	b.bestChain = newTip
	var tipBlock *phxutil.Block
	if len(connectedBlocks) > 0 {
		tipBlock = connectedBlocks[len(connectedBlocks)-1]
	} else {
		var err error
		tipBlock, err = b.blockForNode(newTip)
		if err != nil {
			return err
		}
	}
	b.updateBestState(tipBlock)

	// Observers resurrect the disconnected transactions into the memory
	// pool unless they conflict with the connected branch, and delete the
	// newly connected transactions from it.
	for _, block := range disconnectedBlocks {
		b.sendNotification(NTBlockDisconnected, block)
	}
	for _, block := range connectedBlocks {
		b.sendNotification(NTBlockConnected, block)
	}

	b.logger.Info().Msg("REORGANIZE: done")
	return nil
}

// invalidChainFound records that the chain ending in node failed validation,
// raising the best-invalid-work statistic and logging how far ahead of the
// active chain the invalid chain reaches.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) invalidChainFound(node *blockNode) {
	if node.workSum.Cmp(b.bestInvalidWork) > 0 {
		b.bestInvalidWork = new(big.Int).Set(node.workSum)

		batch := b.store.NewBatch()
		batch.WriteBestInvalidWork(b.bestInvalidWork)
		if err := batch.Commit(); err != nil {
			b.logger.Error().Err(err).Msg("failed to persist best invalid work")
		}
	}

	b.logger.Warn().
		Str("invalid", node.hash.String()).
		Int32("height", node.height).
		Str("work", node.workSum.String()).
		Msg("invalid chain found")
}

// IsInitialBlockDownload reports whether the chain is believed to still be
// catching up with the network: the tip is below the checkpoint estimate, or
// the tip is older than the configured maximum tip age while the best chain
// last changed within the recheck interval.  The verdict is recomputed on
// every call.
//
// This function is safe for concurrent access.
func (b *BlockChain) IsInitialBlockDownload() bool {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()
	return b.isInitialBlockDownload()
}

// isInitialBlockDownload is the locked implementation of
// IsInitialBlockDownload.  The download is considered in progress while the
// tip is both stale and still advancing: an old tip that stopped moving for
// the recheck interval means the node is simply on a quiet network.
func (b *BlockChain) isInitialBlockDownload() bool {
	if b.bestHeight() < b.checkpointBlocksEstimate() {
		return true
	}

	now := time.Now()
	tipTime := time.Unix(b.bestChain.timestamp, 0)
	return now.Sub(b.ibdLastBestChange) < b.ibdRecheckInterval &&
		now.Sub(tipTime) > b.ibdMaxTipAge
}

// SetInitialDownloadThresholds overrides the timing-sensitive heuristics of
// the initial download detector.
func (b *BlockChain) SetInitialDownloadThresholds(recheck, maxTipAge time.Duration) {
	b.chainLock.Lock()
	b.ibdRecheckInterval = recheck
	b.ibdMaxTipAge = maxTipAge
	b.chainLock.Unlock()
}

// blockLocatorFromNode builds the exponentially spaced locator ending at the
// genesis block for the given node.  The chain lock must be held.
func (b *BlockChain) blockLocatorFromNode(node *blockNode) BlockLocator {
	if node == nil {
		node = b.bestChain
	}

	var locator BlockLocator
	step := int32(1)
	for node != nil {
		locator = append(locator, &node.hash)

		if node.height == 0 {
			break
		}

		// Once 10 hashes have been added, double the distance between
		// them.
		if len(locator) > 10 {
			step *= 2
		}

		height := node.height - step
		if height < 0 {
			height = 0
		}
		node = node.Ancestor(height)
	}

	return locator
}

// LatestBlockLocator returns a block locator for the tip of the active chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) LatestBlockLocator() BlockLocator {
	b.chainLock.RLock()
	locator := b.blockLocatorFromNode(b.bestChain)
	b.chainLock.RUnlock()
	return locator
}

// BlockLocatorFromHash returns a block locator anchored at the given hash,
// falling back to a bare single-entry locator when the hash is unknown.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockLocatorFromHash(hash *chainhash.Hash) BlockLocator {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.index.LookupNode(hash)
	if node == nil {
		return BlockLocator{hash}
	}
	return b.blockLocatorFromNode(node)
}

// locateStartNode finds the youngest main-chain node referenced by the
// locator, falling back to the genesis block.  The chain lock must be held.
func (b *BlockChain) locateStartNode(locator BlockLocator) *blockNode {
	for _, hash := range locator {
		node := b.index.LookupNode(hash)
		if node != nil && b.mainChainContains(node) {
			return node
		}
	}
	return b.genesisNode
}

// LocateBlocks returns the hashes of up to maxHashes blocks after the first
// known block in the locator, stopping at hashStop.  This mirrors the
// getblocks protocol semantics.
//
// This function is safe for concurrent access.
func (b *BlockChain) LocateBlocks(locator BlockLocator, hashStop *chainhash.Hash,
	maxHashes int) []chainhash.Hash {

	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.locateStartNode(locator)
	hashes := make([]chainhash.Hash, 0, maxHashes)
	for node = node.bestChild; node != nil; node = node.bestChild {
		hashes = append(hashes, node.hash)
		if node.hash.IsEqual(hashStop) || len(hashes) >= maxHashes {
			break
		}
	}
	return hashes
}

// LocateHeaders returns the headers of up to maxHeaders blocks after the
// first known block in the locator, stopping at hashStop.  This mirrors the
// getheaders protocol semantics.
//
// This function is safe for concurrent access.
func (b *BlockChain) LocateHeaders(locator BlockLocator, hashStop *chainhash.Hash,
	maxHeaders int) []wire.BlockHeader {

	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.locateStartNode(locator)
	headers := make([]wire.BlockHeader, 0, maxHeaders)
	for node = node.bestChild; node != nil; node = node.bestChild {
		headers = append(headers, node.Header())
		if node.hash.IsEqual(hashStop) || len(headers) >= maxHeaders {
			break
		}
	}
	return headers
}

// BlockHeightByHash returns the main-chain height of the block with the
// given hash.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHeightByHash(hash *chainhash.Hash) (int32, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	node := b.index.LookupNode(hash)
	if node == nil || !b.mainChainContains(node) {
		return 0, fmt.Errorf("block %s is not in the main chain", hash)
	}
	return node.height, nil
}
