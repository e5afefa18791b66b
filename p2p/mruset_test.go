// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// inv builds a test inventory vector with the given fill byte.
func inv(b byte) *wire.InvVect {
	return wire.NewInvVect(wire.InvTypeBlock, &chainhash.Hash{b})
}

// TestMruInventorySet exercises bounded insertion and recency eviction.
func TestMruInventorySet(t *testing.T) {
	m := newMruInventorySet(3)

	m.Add(inv(1))
	m.Add(inv(2))
	m.Add(inv(3))
	assert.True(t, m.Exists(inv(1)))
	assert.True(t, m.Exists(inv(2)))
	assert.True(t, m.Exists(inv(3)))

	// Adding a fourth evicts the least recently used entry.
	m.Add(inv(4))
	assert.False(t, m.Exists(inv(1)))
	assert.True(t, m.Exists(inv(4)))

	// Re-adding an entry refreshes its recency so another insertion
	// evicts the next oldest instead.
	m.Add(inv(2))
	m.Add(inv(5))
	assert.True(t, m.Exists(inv(2)))
	assert.False(t, m.Exists(inv(3)))

	// Deleting removes the entry.
	m.Delete(inv(2))
	assert.False(t, m.Exists(inv(2)))
}

// TestBlockSelfDeclaredHeight parses the height committed in a coinbase
// unlocking script.
func TestBlockSelfDeclaredHeight(t *testing.T) {
	coinbase := wire.NewMsgTx()
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: wire.MaxPrevOutIndex,
		},
		SignatureScript: []byte{0x03, 0x90, 0x59, 0x02}, // height 154000
		Sequence:        wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 1, PkScript: []byte{0x51}})

	block := &wire.MsgBlock{Transactions: []*wire.MsgTx{coinbase}}
	assert.Equal(t, int32(154000), blockSelfDeclaredHeight(block))

	// Blocks without a parsable height commitment report zero.
	coinbase.TxIn[0].SignatureScript = []byte{0x51, 0x51}
	assert.Equal(t, int32(0), blockSelfDeclaredHeight(block))

	empty := &wire.MsgBlock{}
	assert.Equal(t, int32(0), blockSelfDeclaredHeight(empty))
}
