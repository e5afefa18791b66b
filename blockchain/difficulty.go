// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math/big"
	"time"

	"gitlab.com/phoenix-network/phoenixd/types/pow"
)

// calcNextRequiredDifficulty calculates the required difficulty for the block
// after the passed previous block node based on the fork-aware retargeting
// rules.
//
// The schedule walks through five epochs of (spacing, timespan, clamp)
// parameters.  From the averaging expansion fork the basic window grows
// fivefold, a second sample over four times as many blocks is averaged in,
// and the result is damped toward the ideal timespan with weight 9:1.  At the
// hasher switch height the target is reset to the switch limit
// unconditionally.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) calcNextRequiredDifficulty(lastNode *blockNode, newBlockTime time.Time) (uint32, error) {
	// Genesis block.
	if lastNode == nil {
		return b.chainParams.PowLimitBits, nil
	}

	height := lastNode.height + 1
	epoch := b.chainParams.RetargetEpochForHeight(height)
	targetSpacing := int64(epoch.TargetSpacing / time.Second)
	targetTimespan := int64(epoch.TargetTimespan / time.Second)

	// Difficulty reset after the hasher switch.
	if height == b.chainParams.HasherSwitchHeight {
		return pow.BigToCompact(b.chainParams.SwitchPowLimit), nil
	}

	interval := targetTimespan / targetSpacing

	// Retargets are forced at fork heights even when misaligned with the
	// interval.
	hardFork := b.chainParams.IsHardForkHeight(height)

	// Difficulty rules for regular blocks.
	if int64(height)%interval != 0 && !hardFork {
		// The test network permits a reset to the minimum difficulty
		// when more than twice the target spacing has elapsed without
		// a block.
		if b.chainParams.ReduceMinDifficulty {
			if newBlockTime.Unix() > lastNode.timestamp+targetSpacing*2 {
				return b.chainParams.PowLimitBits, nil
			}

			// Return the difficulty of the last regular block with
			// no minimal difficulty reset applied.
			iterNode := lastNode
			for iterNode.parent != nil &&
				int64(iterNode.height)%interval != 0 &&
				iterNode.bits == b.chainParams.PowLimitBits {

				iterNode = iterNode.parent
			}
			return iterNode.bits, nil
		}

		return lastNode.bits, nil
	}

	// Basic window expansion after the averaging fork.
	expanded := height >= b.chainParams.AveragingExpansionHeight
	if expanded {
		interval *= 5
		targetTimespan *= 5
	}

	// The first retarget after the genesis.
	if interval >= int64(height) {
		interval = int64(height) - 1
	}

	// Go back by interval blocks.
	firstNode := lastNode
	for i := int64(0); firstNode != nil && i < interval; i++ {
		firstNode = firstNode.parent
	}
	if firstNode == nil {
		return 0, ruleError(ErrBadDiffBits, "not enough blocks for retarget window")
	}

	actualTimespan := lastNode.timestamp - firstNode.timestamp

	// Extended window sampling with 9:1 damping toward the ideal.
	if expanded {
		extInterval := interval * 4
		for i := int64(0); firstNode != nil && i < extInterval; i++ {
			firstNode = firstNode.parent
		}
		var extTimespan int64
		if firstNode != nil {
			extTimespan = (lastNode.timestamp - firstNode.timestamp) / 5
		}

		avgTimespan := (actualTimespan + extTimespan) / 2
		actualTimespan = (avgTimespan + 9*targetTimespan) / 10
	}

	// Clamp the adjustment per the epoch limiter.
	maxTimespan := targetTimespan * epoch.MaxTimespanNum / epoch.MaxTimespanDen
	minTimespan := targetTimespan * epoch.MinTimespanNum / epoch.MinTimespanDen
	if actualTimespan < minTimespan {
		actualTimespan = minTimespan
	}
	if actualTimespan > maxTimespan {
		actualTimespan = maxTimespan
	}

	newTarget := pow.CompactToBig(lastNode.bits)
	newTarget.Mul(newTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	if newTarget.Cmp(b.chainParams.PowLimit) > 0 {
		newTarget.Set(b.chainParams.PowLimit)
	}

	b.logger.Debug().
		Int32("height", height).
		Int64("actualTimespan", actualTimespan).
		Int64("targetTimespan", targetTimespan).
		Uint32("oldBits", lastNode.bits).
		Uint32("newBits", pow.BigToCompact(newTarget)).
		Msg("difficulty retarget")

	return pow.BigToCompact(newTarget), nil
}

// CalcNextRequiredDifficulty calculates the required difficulty for the block
// after the end of the current best chain based on the difficulty retarget
// rules.
//
// This function is safe for concurrent access.
func (b *BlockChain) CalcNextRequiredDifficulty(timestamp time.Time) (uint32, error) {
	b.chainLock.Lock()
	difficulty, err := b.calcNextRequiredDifficulty(b.bestChain, timestamp)
	b.chainLock.Unlock()
	return difficulty, err
}

// CalcNextRequiredDifficultyLocked is the variant of
// CalcNextRequiredDifficulty for callers that already hold the chain state
// lock, such as the template builder.
func (b *BlockChain) CalcNextRequiredDifficultyLocked(timestamp time.Time) (uint32, error) {
	return b.calcNextRequiredDifficulty(b.bestChain, timestamp)
}

// hasherForHeight returns the proof-of-work profile in force at the given
// height.  The post-switch profile is pluggable and may not be linked into
// this build; validation of post-switch blocks fails with a clear error in
// that case rather than at startup.
func (b *BlockChain) hasherForHeight(height int32) (pow.Hasher, error) {
	if height >= b.chainParams.HasherSwitchHeight {
		if b.postSwitchHasher == nil {
			return nil, fmt.Errorf("proof-of-work profile %q is not "+
				"linked into this build", b.chainParams.PostSwitchHasher)
		}
		return b.postSwitchHasher, nil
	}
	return b.preSwitchHasher, nil
}

// checkProofOfWork ensures the block header bits which indicate the target
// difficulty is in min/max range and that the proof-of-work digest is less
// than the target difficulty as claimed.
func checkProofOfWork(powHash *[32]byte, bits uint32, powLimit *big.Int) error {
	// The target difficulty must be larger than zero.
	target := pow.CompactToBig(bits)
	if target.Sign() <= 0 {
		return dosError(ErrHighHash, 50,
			"block target difficulty of %064x is too low", target)
	}

	// The target difficulty must be less than the maximum allowed.
	if target.Cmp(powLimit) > 0 {
		return dosError(ErrHighHash, 50,
			"block target difficulty of %064x is higher than max of %064x",
			target, powLimit)
	}

	// The proof-of-work digest must be less than the claimed target.
	hashNum := pow.HashToBig(powHash)
	if hashNum.Cmp(target) > 0 {
		return dosError(ErrHighHash, 50,
			"block hash of %064x is higher than expected max of %064x",
			hashNum, target)
	}

	return nil
}
