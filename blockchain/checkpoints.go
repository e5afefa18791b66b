// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/crypto"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// CheckpointMode selects how a failure against the synchronized checkpoint
// is treated during block acceptance.
type CheckpointMode int

const (
	// CheckpointModeStrict rejects blocks that fail the synchronized
	// checkpoint.
	CheckpointModeStrict CheckpointMode = iota

	// CheckpointModeAdvisory accepts failing blocks with a warning.
	CheckpointModeAdvisory

	// CheckpointModePermissive ignores the synchronized checkpoint
	// entirely.
	CheckpointModePermissive
)

// syncCheckpointState carries the signed checkpoint subsystem: the currently
// applied checkpoint, a parked message whose block has not arrived yet, and
// the operating mode.
type syncCheckpointState struct {
	mode CheckpointMode

	// current is the latest verified checkpoint message; currentHash is
	// the block it pins.
	current     *wire.MsgCheckpoint
	currentHash chainhash.Hash

	// pending is a verified checkpoint whose block is still unknown.
	pending     *wire.MsgCheckpoint
	pendingHash chainhash.Hash

	warning string
}

// verifyHardCheckpoint reports whether the block at the given height is
// consistent with the hard-coded checkpoints: a block at a checkpoint height
// must carry exactly the checkpoint hash.
func (b *BlockChain) verifyHardCheckpoint(height int32, hash *chainhash.Hash) bool {
	for i := range b.chainParams.Checkpoints {
		cp := &b.chainParams.Checkpoints[i]
		if cp.Height == height {
			return cp.Hash.IsEqual(hash)
		}
	}
	return true
}

// checkpointBlocksEstimate returns the height of the latest hard-coded
// checkpoint, which serves as a conservative estimate of how many blocks the
// network has.  Signature verification is skipped below it.
func (b *BlockChain) checkpointBlocksEstimate() int32 {
	cps := b.chainParams.Checkpoints
	if len(cps) == 0 {
		return 0
	}
	return cps[len(cps)-1].Height
}

// latestCheckpointNode returns the index node of the youngest hard-coded
// checkpoint whose block is already known, or nil.  The chain lock must be
// held.
func (b *BlockChain) latestCheckpointNode() *blockNode {
	cps := b.chainParams.Checkpoints
	for i := len(cps) - 1; i >= 0; i-- {
		if node := b.index.LookupNode(cps[i].Hash); node != nil {
			return node
		}
	}
	return nil
}

// LatestCheckpoint returns the most recent hard-coded checkpoint, or nil when
// the network carries none.
func (b *BlockChain) LatestCheckpoint() *chaincfg.Checkpoint {
	cps := b.chainParams.Checkpoints
	if len(cps) == 0 {
		return nil
	}
	return &cps[len(cps)-1]
}

// checkpointMasterKey resolves the key the signed checkpoints must verify
// against: a key stored in the index overrides the compiled-in default so the
// network can rotate it.
func (b *BlockChain) checkpointMasterKey() []byte {
	stored, err := b.store.CheckpointPubKey()
	if err == nil && len(stored) > 0 {
		return stored
	}
	return b.chainParams.CheckpointMasterPubKey
}

// checkSyncCheckpoint reports whether a block extending prevNode is
// consistent with the applied synchronized checkpoint.  Blocks that would
// fork below the checkpoint, or whose ancestor at the checkpoint height is
// not the checkpoint, fail.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) checkSyncCheckpoint(prevNode *blockNode) bool {
	sc := &b.syncCheckpoint
	if sc.current == nil || sc.mode == CheckpointModePermissive {
		return true
	}

	cpNode := b.index.LookupNode(&sc.currentHash)
	if cpNode == nil {
		// The pinned block has not arrived yet; nothing to check
		// against.
		return true
	}

	newHeight := prevNode.height + 1
	if newHeight <= cpNode.height {
		// Trying to fork the chain below the synchronized checkpoint.
		return false
	}

	ancestor := prevNode.Ancestor(cpNode.height)
	return ancestor == cpNode
}

// ProcessSyncCheckpoint verifies and applies a signed checkpoint message.
// The signature must verify against the master key; a checkpoint whose block
// is not yet known parks as pending and the caller is told which block to
// request.  The returned flag indicates the message should be relayed.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessSyncCheckpoint(msg *wire.MsgCheckpoint) (bool, error) {
	if msg.Checkpoint == nil {
		return false, dosError(ErrCheckpointMismatch, 10,
			"sync checkpoint payload did not parse")
	}

	key := b.checkpointMasterKey()
	if len(key) == 0 {
		// No master key for this network; ignore silently.
		return false, nil
	}
	if err := crypto.VerifySignedPayload(key, msg.Data, msg.Signature); err != nil {
		return false, dosError(ErrCheckpointMismatch, 10,
			"sync checkpoint signature verification failed: %v", err)
	}

	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	sc := &b.syncCheckpoint
	hash := msg.Checkpoint.HashCheckpoint

	node := b.index.LookupNode(&hash)
	if node == nil {
		// We haven't received the checkpoint block, park the message
		// and let the caller ask a peer for it.
		sc.pending = msg
		sc.pendingHash = hash
		b.logger.Info().Str("hash", hash.String()).
			Msg("pending sync checkpoint parked")
		return false, nil
	}

	if err := b.applySyncCheckpoint(msg, node); err != nil {
		return false, err
	}
	return true, nil
}

// applySyncCheckpoint installs a verified checkpoint whose block is known.
// When the pinned block sits on a side chain, the best chain is reorganized
// onto it whatever that branch's work.  The chain lock must be held for
// writes.
func (b *BlockChain) applySyncCheckpoint(msg *wire.MsgCheckpoint, node *blockNode) error {
	sc := &b.syncCheckpoint
	sc.current = msg
	sc.currentHash = node.hash
	sc.pending = nil
	sc.warning = ""

	// If the checkpoint lands on a side chain, pull the best chain onto
	// the checkpointed branch.
	if !b.mainChainContains(node) {
		block, err := b.blockForNode(node)
		if err != nil {
			return err
		}
		if err := b.setBestChain(block, node); err != nil {
			return err
		}
	}

	b.logger.Info().Str("hash", node.hash.String()).
		Int32("height", node.height).
		Msg("sync checkpoint applied")
	return nil
}

// acceptPendingSyncCheckpoint retries a parked checkpoint once its block has
// arrived.  The chain lock must be held for writes.
func (b *BlockChain) acceptPendingSyncCheckpoint() {
	sc := &b.syncCheckpoint
	if sc.pending == nil {
		return
	}
	node := b.index.LookupNode(&sc.pendingHash)
	if node == nil {
		return
	}
	msg := sc.pending
	sc.pending = nil
	if err := b.applySyncCheckpoint(msg, node); err != nil {
		b.logger.Error().Err(err).Msg("pending sync checkpoint failed to apply")
	}
}

// PendingSyncCheckpointBlock returns the hash of the block a parked sync
// checkpoint is waiting for, or nil.
//
// This function is safe for concurrent access.
func (b *BlockChain) PendingSyncCheckpointBlock() *chainhash.Hash {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	if b.syncCheckpoint.pending == nil {
		return nil
	}
	hash := b.syncCheckpoint.pendingHash
	return &hash
}

// CurrentSyncCheckpoint returns the latest applied checkpoint message so the
// peer engine can relay it to fresh peers, or nil.
//
// This function is safe for concurrent access.
func (b *BlockChain) CurrentSyncCheckpoint() *wire.MsgCheckpoint {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.syncCheckpoint.current
}

// CheckpointWarning returns the advisory-mode warning raised by the last
// failed checkpoint comparison, empty when none.
func (b *BlockChain) CheckpointWarning() string {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.syncCheckpoint.warning
}

// VerifyAlertSignature checks a network alert signature against the
// hard-coded alert key of the chain.
func (b *BlockChain) VerifyAlertSignature(msg *wire.MsgAlert) error {
	key := b.chainParams.AlertPubKey
	if len(key) == 0 {
		return fmt.Errorf("no alert key for network %s", b.chainParams.Name)
	}
	if err := crypto.VerifySignedPayload(key, msg.SerializedPayload, msg.Signature); err != nil {
		return dosError(ErrCheckpointMismatch, 10, "alert signature invalid: %v", err)
	}
	return nil
}
