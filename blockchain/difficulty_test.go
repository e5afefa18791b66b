// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
)

// mainNetTestChain returns a bare chain instance suitable for exercising the
// retarget math against hand-built index nodes.
func mainNetTestChain() *BlockChain {
	return &BlockChain{
		chainParams: &chaincfg.MainNetParams,
		logger:      testLogger(),
	}
}

// buildNodeChain links count nodes starting at the given time with the given
// spacing, all carrying the same bits.
func buildNodeChain(count int, startTime int64, spacing int64, bits uint32) *blockNode {
	var tip *blockNode
	for i := 0; i < count; i++ {
		node := &blockNode{
			parent:    tip,
			height:    int32(i),
			bits:      bits,
			timestamp: startTime + int64(i)*spacing,
			workSum:   pow.CalcWork(bits),
		}
		tip = node
	}
	return tip
}

// TestRetargetReusesPreviousBits ensures blocks between retarget heights
// inherit the parent's compact target on the main network.
func TestRetargetReusesPreviousBits(t *testing.T) {
	b := mainNetTestChain()

	lastNode := &blockNode{
		height:    100,
		bits:      0x1d00ffff,
		timestamp: 1400000000,
	}
	bits, err := b.calcNextRequiredDifficulty(lastNode, time.Unix(1400000090, 0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1d00ffff), bits)
}

// TestRetargetGenesis ensures the genesis difficulty is the limit.
func TestRetargetGenesis(t *testing.T) {
	b := mainNetTestChain()
	bits, err := b.calcNextRequiredDifficulty(nil, time.Unix(1400000000, 0))
	require.NoError(t, err)
	assert.Equal(t, chaincfg.MainNetParams.PowLimitBits, bits)
}

// TestRetargetHasherSwitchReset ensures the target resets to the switch
// limit exactly at the hasher switch height.
func TestRetargetHasherSwitchReset(t *testing.T) {
	b := mainNetTestChain()

	lastNode := &blockNode{
		height:    chaincfg.MainNetParams.HasherSwitchHeight - 1,
		bits:      0x1b00ffff,
		timestamp: 1400000000,
	}
	bits, err := b.calcNextRequiredDifficulty(lastNode, time.Unix(1400000090, 0))
	require.NoError(t, err)
	assert.Equal(t, pow.BigToCompact(chaincfg.MainNetParams.SwitchPowLimit), bits)
}

// TestRetargetAtInterval exercises a full retarget at the first epoch's
// interval boundary: perfectly spaced blocks keep the target, fast blocks
// shrink it within the clamp.
func TestRetargetAtInterval(t *testing.T) {
	b := mainNetTestChain()
	params := &chaincfg.MainNetParams
	startBits := params.PowLimitBits

	// The epoch's interval is 2400 blocks; the first retarget measures
	// over interval-1 blocks since the window reaches back to the
	// genesis.
	const targetTimespan = 2400 * 90

	// Blocks at the ideal 90 second spacing: the measured timespan is
	// the ideal less one spacing, so the target barely moves.
	tip := buildNodeChain(2400, 1320000000, 90, startBits)
	require.Equal(t, int32(2399), tip.height)

	bits, err := b.calcNextRequiredDifficulty(tip, time.Unix(1320000000+targetTimespan, 0))
	require.NoError(t, err)

	wantTarget := new(big.Int).Mul(pow.CompactToBig(startBits),
		big.NewInt(2399*90))
	wantTarget.Div(wantTarget, big.NewInt(targetTimespan))
	assert.Equal(t, pow.BigToCompact(wantTarget), bits)

	// The same chain mined at one second spacing clamps at a quarter of
	// the target timespan: the new target is a quarter of the old one.
	fastTip := buildNodeChain(2400, 1320000000, 1, startBits)
	fastBits, err := b.calcNextRequiredDifficulty(fastTip, time.Unix(1320002400, 0))
	require.NoError(t, err)

	oldTarget := pow.CompactToBig(startBits)
	newTarget := pow.CompactToBig(fastBits)
	assert.True(t, newTarget.Cmp(oldTarget) < 0, "fast blocks must raise difficulty")

	wantFast := new(big.Int).Mul(pow.CompactToBig(startBits),
		big.NewInt(targetTimespan/4))
	wantFast.Div(wantFast, big.NewInt(targetTimespan))
	assert.Equal(t, pow.BigToCompact(wantFast), fastBits)
}

// TestRetargetTestNetMinDifficulty ensures the test network resets to the
// minimum difficulty after two missed spacings.
func TestRetargetTestNetMinDifficulty(t *testing.T) {
	b := &BlockChain{
		chainParams: &chaincfg.TestNetParams,
		logger:      testLogger(),
	}
	params := &chaincfg.TestNetParams

	lastNode := &blockNode{
		height:    10,
		bits:      0x1c00ffff,
		timestamp: 1400000000,
	}

	// Within two spacings the previous difficulty holds (the walk-back
	// terminates at this node since its bits differ from the limit).
	bits, err := b.calcNextRequiredDifficulty(lastNode, time.Unix(1400000050, 0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1c00ffff), bits)

	// After more than twice the 45 second spacing the limit applies.
	bits, err = b.calcNextRequiredDifficulty(lastNode, time.Unix(1400000200, 0))
	require.NoError(t, err)
	assert.Equal(t, params.PowLimitBits, bits)
}
