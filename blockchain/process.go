// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"time"

	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// IsKnownOrphan returns whether the passed hash is currently a known orphan.
// Keep in mind that only a limited number of orphans are held onto for a
// limited amount of time, so this function must not be used as an absolute
// way to test if a block is an orphan block.
//
// This function is safe for concurrent access.
func (b *BlockChain) IsKnownOrphan(hash *chainhash.Hash) bool {
	b.orphanLock.RLock()
	_, exists := b.orphans[*hash]
	b.orphanLock.RUnlock()
	return exists
}

// GetOrphanRoot returns the head of the chain for the provided hash from the
// map of orphan blocks: the most distant known ancestor that is itself still
// an orphan.  The peer engine anchors its getblocks request at this root to
// fill the gap back to the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) GetOrphanRoot(hash *chainhash.Hash) *chainhash.Hash {
	b.orphanLock.RLock()
	defer b.orphanLock.RUnlock()

	// Keep looping while the parent of each orphaned block is known and is
	// an orphan itself.
	orphanRoot := hash
	prevHash := hash
	for {
		orphan, exists := b.orphans[*prevHash]
		if !exists {
			break
		}
		orphanRoot = prevHash
		prevHash = &orphan.block.MsgBlock().Header.PrevBlock
	}

	return orphanRoot
}

// WantedOrphanParent returns the missing parent hash of the orphan chain the
// given hash belongs to, so it can be requested directly.
//
// This function is safe for concurrent access.
func (b *BlockChain) WantedOrphanParent(hash *chainhash.Hash) *chainhash.Hash {
	b.orphanLock.RLock()
	defer b.orphanLock.RUnlock()

	wanted := hash
	for {
		orphan, exists := b.orphans[*wanted]
		if !exists {
			break
		}
		wanted = &orphan.block.MsgBlock().Header.PrevBlock
	}
	return wanted
}

// removeOrphanBlock removes the passed orphan block from the orphan pool and
// previous orphan index.
func (b *BlockChain) removeOrphanBlock(orphan *orphanBlock) {
	// Protect concurrent access.
	b.orphanLock.Lock()
	defer b.orphanLock.Unlock()

	// Remove the orphan block from the orphan pool.
	orphanHash := orphan.block.Hash()
	delete(b.orphans, *orphanHash)

	// Remove the reference from the previous orphan index too.  An
	// indexing for loop is intentionally used over a range here as range
	// does not reevaluate the slice on each iteration nor does it adjust
	// the index for the modified slice.
	prevHash := &orphan.block.MsgBlock().Header.PrevBlock
	orphans := b.prevOrphans[*prevHash]
	for i := 0; i < len(orphans); i++ {
		hash := orphans[i].block.Hash()
		if hash.IsEqual(orphanHash) {
			copy(orphans[i:], orphans[i+1:])
			orphans[len(orphans)-1] = nil
			orphans = orphans[:len(orphans)-1]
			i--
		}
	}
	b.prevOrphans[*prevHash] = orphans

	// Remove the map entry altogether if there are no longer any orphans
	// which depend on the parent hash.
	if len(b.prevOrphans[*prevHash]) == 0 {
		delete(b.prevOrphans, *prevHash)
	}
}

// addOrphanBlock adds the passed block (which is already determined to be an
// orphan prior calling this function) to the orphan pool.  It lazily cleans
// up any expired blocks so a separate cleanup poller doesn't need to be run.
// It also imposes a maximum limit on the number of outstanding orphan blocks
// and will remove the oldest received orphan block if the limit is exceeded.
func (b *BlockChain) addOrphanBlock(block *phxutil.Block) {
	// Remove expired orphan blocks.
	for _, oBlock := range b.orphans {
		if time.Now().After(oBlock.expiration) {
			b.removeOrphanBlock(oBlock)
			continue
		}

		// Update the oldest orphan block pointer so it can be discarded
		// in case the orphan pool fills up.
		if b.oldestOrphan == nil ||
			oBlock.expiration.Before(b.oldestOrphan.expiration) {
			b.oldestOrphan = oBlock
		}
	}

	// Limit orphan blocks to prevent memory exhaustion.
	if len(b.orphans)+1 > maxOrphanBlocks {
		// Remove the oldest orphan to make room for the new one.
		b.removeOrphanBlock(b.oldestOrphan)
		b.oldestOrphan = nil
	}

	// Protect concurrent access.  This is intentionally done here instead
	// of near the top since removeOrphanBlock does its own locking and
	// the range iterator is not invalidated by removing map entries.
	b.orphanLock.Lock()
	defer b.orphanLock.Unlock()

	// Insert the block into the orphan map with an expiration time
	// 1 hour from now.
	expiration := time.Now().Add(time.Hour)
	oBlock := &orphanBlock{
		block:      block,
		expiration: expiration,
	}
	b.orphans[*block.Hash()] = oBlock

	// Add to previous hash lookup index for faster dependency lookups.
	prevHash := &block.MsgBlock().Header.PrevBlock
	b.prevOrphans[*prevHash] = append(b.prevOrphans[*prevHash], oBlock)
}

// processOrphans determines if there are any orphans which depend on the
// passed block hash (they are no longer orphans if true) and potentially
// accepts them.  It repeats the process for the newly accepted blocks (to
// detect further orphans which may no longer be orphans) until there are no
// more.
//
// The flags do not modify the behavior of this function directly, however
// they are needed to pass along to maybeAcceptBlock.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) processOrphans(hash *chainhash.Hash, flags BehaviorFlags) error {
	// Start with processing at least the passed hash.  Leave a little room
	// for additional orphan blocks that need to be processed without
	// needing to grow the array in the common case.
	processHashes := make([]*chainhash.Hash, 0, 10)
	processHashes = append(processHashes, hash)
	for len(processHashes) > 0 {
		// Pop the first hash to process from the slice.
		processHash := processHashes[0]
		processHashes[0] = nil // Prevent GC leak.
		processHashes = processHashes[1:]

		// Look up all orphans that are parented by the block we just
		// accepted.  This will typically only be one, but it could
		// be multiple if multiple blocks are mined and broadcast
		// around the same time.  The one with the most proof of work
		// will eventually win out.  An indexing for loop is
		// intentionally used over a range here as range does not
		// reevaluate the slice on each iteration nor does it adjust
		// the index for the modified slice.
		for i := 0; i < len(b.prevOrphans[*processHash]); i++ {
			orphan := b.prevOrphans[*processHash][i]
			if orphan == nil {
				b.logger.Warn().Msgf("Found a nil entry at index %d in the "+
					"orphan dependency list for block %v", i, processHash)
				continue
			}

			// Remove the orphan from the orphan pool.
			orphanHash := orphan.block.Hash()
			b.removeOrphanBlock(orphan)
			i--

			// Potentially accept the block into the block chain.
			_, err := b.maybeAcceptBlock(orphan.block, flags)
			if err != nil {
				return err
			}

			// Add this block to the list of blocks to process so
			// any orphan blocks that depend on this block are
			// handled too.
			processHashes = append(processHashes, orphanHash)
		}
	}
	return nil
}

// BlockSource identifies where a processed block came from so the gap-fill
// requests for orphan ancestors can be routed back to the sending peer.
// A nil source means the block was generated locally.
type BlockSource interface {
	// PushGetBlocks asks the peer for the inventory between the locator
	// and the stop hash.
	PushGetBlocks(locator BlockLocator, stopHash *chainhash.Hash) error

	// RequestBlock schedules a direct request for the given block.
	RequestBlock(hash *chainhash.Hash)
}

// ProcessBlock is the main workhorse for handling insertion of new blocks
// into the block chain.  It includes functionality such as rejecting
// duplicate blocks, ensuring blocks follow all rules, orphan handling, and
// insertion into the block chain along with best chain selection and
// reorganization.
//
// When no errors occurred during processing, the first return value indicates
// whether or not the block is on the main chain and the second indicates
// whether or not the block is an orphan.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlock(block *phxutil.Block, source BlockSource,
	flags BehaviorFlags) (bool, bool, error) {

	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	blockHash := block.Hash()
	b.logger.Trace().Msgf("Processing block %v", blockHash)

	// The block must not already exist in the main chain or side chains.
	if b.index.HaveBlock(blockHash) {
		return false, false, ruleError(ErrDuplicateBlock, fmt.Sprintf(
			"already have block %v", blockHash))
	}

	// The block must not already exist as an orphan.
	if b.IsKnownOrphan(blockHash) {
		return false, false, ruleError(ErrDuplicateBlock, fmt.Sprintf(
			"already have block (orphan) %v", blockHash))
	}

	// Ask for a pending sync checkpoint block, if any.
	if source != nil && !b.isInitialBlockDownload() && b.syncCheckpoint.pending != nil {
		pendingHash := b.syncCheckpoint.pendingHash
		source.RequestBlock(&pendingHash)
	}

	// Perform preliminary sanity checks on the block and its transactions
	// with the proof-of-work profile of the height the block would land
	// at.
	hashHeight := b.bestHeight() + 1
	if prevNode := b.index.LookupNode(&block.MsgBlock().Header.PrevBlock); prevNode != nil {
		hashHeight = prevNode.height + 1
	}
	hasher, err := b.hasherForHeight(hashHeight)
	if err != nil {
		return false, false, err
	}
	err = checkBlockSanity(block, b.chainParams, hasher, b.timeSource, flags)
	if err != nil {
		return false, false, err
	}

	// Blocks that extend something other than the best chain and carry a
	// time stamp before the last hard-coded checkpoint cannot possibly be
	// anything but an attack.
	checkpointNode := b.latestCheckpointNode()
	header := &block.MsgBlock().Header
	if checkpointNode != nil && !header.PrevBlock.IsEqual(&b.bestChain.hash) {
		if header.Timestamp.Unix() < checkpointNode.timestamp {
			return false, false, dosError(ErrCheckpointTimeTooOld, 100,
				"block %v has a time stamp %d before the last checkpoint %d",
				blockHash, header.Timestamp.Unix(), checkpointNode.timestamp)
		}
	}

	// Handle orphan blocks: hold the block as long as there is a peer to
	// request the preceding blocks from.
	if !b.index.HaveBlock(&header.PrevBlock) {
		b.logger.Info().Msgf("Adding orphan block %v with parent %v",
			blockHash, header.PrevBlock)

		if source != nil {
			b.addOrphanBlock(block)

			// Ask the sending peer for the ancestor chain, anchored
			// at our tip and stopping at the orphan's root, plus the
			// missing parent directly just in case.
			locator := b.blockLocatorFromNode(b.bestChain)
			orphanRoot := b.GetOrphanRoot(blockHash)
			if err := source.PushGetBlocks(locator, orphanRoot); err != nil {
				b.logger.Warn().Err(err).Msg("failed to push getblocks for orphan")
			}
			if !b.isInitialBlockDownload() {
				source.RequestBlock(b.WantedOrphanParent(blockHash))
			}
		}

		return false, true, nil
	}

	// The block has a known parent: store it and extend the chain.
	isMainChain, err := b.maybeAcceptBlock(block, flags)
	if err != nil {
		return false, false, err
	}

	// Accept any orphan blocks that depended on this block (they are no
	// longer orphans) and repeat for those accepted blocks until there are
	// no more.
	if err := b.processOrphans(blockHash, flags); err != nil {
		return false, false, err
	}

	b.logger.Debug().Msgf("Accepted block %v", blockHash)
	return isMainChain, false, nil
}
