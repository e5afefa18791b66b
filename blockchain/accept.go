// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"fmt"

	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
)

// maybeAcceptBlock potentially accepts a block into the block chain and, if
// accepted, returns whether or not it is on the main chain.  It performs the
// contextual validation of the header against its parent: the exact required
// difficulty, the tiered block time rules, the coinbase height rule, the
// finality of every transaction, and the checkpoint comparisons.  On success
// the block is appended to the block files and inserted into the index, and
// the best chain advances when the cumulative work exceeds the current best.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeAcceptBlock(block *phxutil.Block, flags BehaviorFlags) (bool, error) {
	blockHash := block.Hash()
	if b.index.HaveBlock(blockHash) {
		return false, ruleError(ErrDuplicateBlock,
			"block already in the block index")
	}

	msgBlock := block.MsgBlock()
	header := &msgBlock.Header

	prevNode := b.index.LookupNode(&header.PrevBlock)
	if prevNode == nil {
		return false, dosError(ErrPrevBlockNotBest, 10,
			"previous block %s not found", header.PrevBlock)
	}
	blockHeight := prevNode.height + 1
	block.SetHeight(blockHeight)

	fastAdd := flags&BFFastAdd == BFFastAdd
	blockTime := header.Timestamp.Unix()
	params := b.chainParams

	// Don't accept v1 blocks once the height commitment switch time has
	// passed: the coinbase unlocking script must begin with the serialized
	// block height.
	if blockTime > params.CoinbaseHeightSwitchTime {
		expect := txscript.NumberScript(int64(blockHeight))
		scriptSig := msgBlock.Transactions[0].TxIn[0].SignatureScript
		if len(scriptSig) < len(expect) || !bytes.Equal(scriptSig[:len(expect)], expect) {
			return false, dosError(ErrBadCoinbaseHeight, 100,
				"incorrect block height in coinbase for block %d", blockHeight)
		}
	}

	// Don't accept blocks with bogus version numbers after the hasher
	// switch.
	if blockHeight >= params.HasherSwitchHeight && header.Version != 2 {
		return false, dosError(ErrBadBlockVersion, 100,
			"incorrect block version %d at height %d", header.Version, blockHeight)
	}

	if !fastAdd {
		// The block must carry exactly the difficulty the retarget
		// schedule requires.
		expectedBits, err := b.calcNextRequiredDifficulty(prevNode, header.Timestamp)
		if err != nil {
			return false, err
		}
		if header.Bits != expectedBits {
			return false, dosError(ErrBadDiffBits, 100,
				"incorrect proof of work for block %d: got %08x, want %08x",
				blockHeight, header.Bits, expectedBits)
		}
	}

	// Past limit #1: the time stamp must be after the median of the last
	// eleven blocks.
	medianTime := prevNode.CalcPastMedianTime().Unix()
	if blockTime <= medianTime {
		return false, dosError(ErrTimeTooOld, 20,
			"block %s height %d has a time stamp behind the median",
			blockHash, blockHeight)
	}

	adjustedNow := b.timeSource.AdjustedTime().Unix()

	// Soft fork 1: further restrictions.
	if blockHeight >= params.SoftForkOne {
		if blockTime > adjustedNow+10*60 {
			return false, dosError(ErrTimeTooNew, 5,
				"block %s height %d has a time stamp too far in the future",
				blockHash, blockHeight)
		}

		if blockTime <= medianTime+BlockLimiterTime {
			return false, dosError(ErrTimeTooOld, 5,
				"block %s height %d rejected by the block limiter",
				blockHash, blockHeight)
		}

		if blockTime <= prevNode.timestamp-10*60 {
			return false, dosError(ErrTimeTooOld, 20,
				"block %s height %d has a time stamp too far in the past",
				blockHash, blockHeight)
		}
	}

	// Soft fork 2, skipped during the initial download.
	if blockHeight >= params.SoftForkTwo && !b.isInitialBlockDownload() {
		// Tightened future limit.
		if blockTime > adjustedNow+5*60 {
			return false, dosError(ErrTimeTooNew, 5,
				"block %s height %d has a time stamp too far in the future",
				blockHash, blockHeight)
		}

		// Future travel detector for the block limiter.
		avgTimePast := prevNode.CalcAverageTimePast(futureTravelWindow,
			futureTravelMinDelay)
		if blockTime > adjustedNow+60 &&
			avgTimePast != 0 && avgTimePast+BlockLimiterTime > adjustedNow {

			return false, dosError(ErrFutureTravel, 5,
				"block %s height %d rejected by the future travel detector",
				blockHash, blockHeight)
		}
	}

	// Every transaction must be final at this height and time.
	for _, tx := range block.Transactions() {
		if !tx.MsgTx().IsFinal(blockHeight, blockTime) {
			return false, dosError(ErrUnfinalizedTx, 10,
				"block contains a non-final transaction")
		}
	}

	// Check against the hard-coded checkpoints.
	if !b.verifyHardCheckpoint(blockHeight, blockHash) {
		return false, dosError(ErrCheckpointMismatch, 100,
			"rejected by a hardened checkpoint at height %d", blockHeight)
	}

	// Check against the synchronized checkpoint; failures reject in strict
	// mode and warn in advisory mode.
	if !b.isInitialBlockDownload() && !b.checkSyncCheckpoint(prevNode) {
		switch b.syncCheckpoint.mode {
		case CheckpointModeStrict:
			return false, ruleError(ErrCheckpointMismatch, fmt.Sprintf(
				"block %s height %d rejected by synchronized checkpointing",
				blockHash, blockHeight))
		case CheckpointModeAdvisory:
			b.syncCheckpoint.warning =
				"WARNING: failed against synchronized checkpointing!"
		}
	}

	// Write the block to the history files and insert the index node.
	file, blockPos, err := b.store.WriteBlock(msgBlock)
	if err != nil {
		return false, err
	}

	node := newBlockNode(header, prevNode)
	node.file = file
	node.blockPos = blockPos

	batch := b.store.NewBatch()
	if err := batch.WriteBlockIndex(&node.hash, node.record()); err != nil {
		return false, err
	}
	if err := batch.Commit(); err != nil {
		return false, err
	}
	b.index.AddNode(node)

	// Advance the best chain when this node carries more cumulative work.
	isMainChain := false
	if node.workSum.Cmp(b.bestChain.workSum) > 0 {
		if err := b.setBestChain(block, node); err != nil {
			return false, err
		}
		isMainChain = true
	}

	// Observers relay the inventory to peers that are close enough to the
	// tip to make use of it.
	b.sendNotification(NTBlockAccepted, block)

	// Process a pending sync checkpoint, unless the initial download is
	// still running, to keep catch-up fast.
	if !b.isInitialBlockDownload() {
		b.acceptPendingSyncCheckpoint()
	}

	return isMainChain, nil
}
