// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// testHarness couples a simulation-network chain with a pool and remembers a
// mature coinbase output tests can spend.
type testHarness struct {
	chain *blockchain.BlockChain
	pool  *TxPool

	// spendableOut is the outpoint of a coinbase output old enough to
	// spend; spendableValue is its value.
	spendableOut   wire.OutPoint
	spendableValue int64
}

// solveHeader grinds the nonce until the sha256d digest meets the target.
func solveHeader(t *testing.T, header *wire.BlockHeader) {
	t.Helper()
	target := pow.CompactToBig(header.Bits)
	hasher := pow.SHA256dHasher{}
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		hash := header.PowHash(hasher)
		if pow.HashToBig((*[32]byte)(&hash)).Cmp(target) <= 0 {
			return
		}
	}
}

// mineBlock extends the harness chain tip with an empty block.
func (h *testHarness) mineBlock(t *testing.T, extra uint32) *phxutil.Block {
	t.Helper()

	best := h.chain.BestSnapshot()
	height := best.Height + 1

	coinbaseScript := append(txscript.NumberScript(int64(height)),
		0x04, byte(extra), byte(extra>>8), byte(extra>>16), byte(extra>>24))
	coinbase := wire.NewMsgTx()
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: wire.MaxPrevOutIndex,
		},
		SignatureScript: coinbaseScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(&wire.TxOut{
		Value:    blockchain.CalcBlockSubsidy(height, &chaincfg.SimNetParams),
		PkScript: []byte{0x51},
	})

	msgBlock := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			PrevBlock: best.Hash,
			Timestamp: time.Unix(best.MedianTime.Unix()+60, 0),
			Bits:      chaincfg.SimNetParams.PowLimitBits,
		},
		Transactions: []*wire.MsgTx{coinbase},
	}
	block := phxutil.NewBlock(msgBlock)
	msgBlock.Header.MerkleRoot = blockchain.CalcMerkleRoot(block.Transactions())
	solveHeader(t, &msgBlock.Header)

	_, _, err := h.chain.ProcessBlock(block, nil, blockchain.BFNone)
	require.NoError(t, err)
	return block
}

// newTestHarness builds a chain long enough that the first mined coinbase
// has matured, and a pool wired to it.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := blockdb.Open(t.TempDir(), wire.SimNet)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chain, err := blockchain.New(&blockchain.Config{
		Store:          store,
		ChainParams:    &chaincfg.SimNetParams,
		TimeSource:     blockchain.NewMedianTime(zerolog.Nop()),
		ScriptVerifier: txscript.NopVerifier{},
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	h := &testHarness{chain: chain}
	h.pool = New(&Config{
		Chain:            chain,
		RelayNonStd:      true,
		FreeTxRelayLimit: 15,
		MaxOrphanTxs:     10,
		Logger:           zerolog.Nop(),
	})
	chain.SetTxPool(h.pool)

	// Mine past the coinbase maturity window so the first block's
	// coinbase is spendable.
	first := h.mineBlock(t, 1)
	for i := 0; i < 110; i++ {
		h.mineBlock(t, uint32(1000+i))
	}

	h.spendableOut = wire.OutPoint{Hash: *first.Transactions()[0].Hash(), Index: 0}
	h.spendableValue = first.Transactions()[0].MsgTx().TxOut[0].Value
	return h
}

// spendTx builds a transaction spending the harness's mature coinbase into
// the given number of equal outputs.
func (h *testHarness) spendTx(numOutputs int) *phxutil.Tx {
	msgTx := wire.NewMsgTx()
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: h.spendableOut,
		SignatureScript:  []byte{0x51},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	share := h.spendableValue / int64(numOutputs)
	for i := 0; i < numOutputs; i++ {
		msgTx.AddTxOut(&wire.TxOut{Value: share, PkScript: []byte{0x51, byte(i)}})
	}
	return phxutil.NewTx(msgTx)
}

// TestPoolAcceptance covers the happy path of the admission pipeline.
func TestPoolAcceptance(t *testing.T) {
	h := newTestHarness(t)

	tx := h.spendTx(2)
	accepted, err := h.pool.ProcessTransaction(tx)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, tx.Hash().String(), accepted[0].Hash().String())

	assert.True(t, h.pool.IsTransactionInPool(tx.Hash()))
	assert.Equal(t, 1, h.pool.Count())
	assert.NotZero(t, h.pool.UpdateCounter())

	// Resubmitting the same transaction is rejected as benign.
	_, err = h.pool.ProcessTransaction(tx)
	require.Error(t, err)
	assert.Equal(t, uint16(0), blockchain.ErrToDoS(err))
}

// TestPoolDoubleSpendRejected covers scenario five: a second transaction
// spending the same outpoint is rejected without mutating the pool and
// without a misbehavior score, since replacement is simply disabled.
func TestPoolDoubleSpendRejected(t *testing.T) {
	h := newTestHarness(t)

	tx1 := h.spendTx(2)
	_, err := h.pool.ProcessTransaction(tx1)
	require.NoError(t, err)

	tx2 := h.spendTx(3) // Different outputs, same outpoint.
	require.NotEqual(t, tx1.Hash().String(), tx2.Hash().String())

	_, err = h.pool.ProcessTransaction(tx2)
	require.Error(t, err)
	assert.Equal(t, uint16(0), blockchain.ErrToDoS(err))

	assert.True(t, h.pool.IsTransactionInPool(tx1.Hash()))
	assert.False(t, h.pool.IsTransactionInPool(tx2.Hash()))
	assert.Equal(t, 1, h.pool.Count())
}

// TestPoolCoinbaseRejected ensures loose coinbases never enter the pool.
func TestPoolCoinbaseRejected(t *testing.T) {
	h := newTestHarness(t)

	coinbase := wire.NewMsgTx()
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: wire.MaxPrevOutIndex,
		},
		SignatureScript: []byte{0x01, 0x02},
		Sequence:        wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 50 * blockchain.BaseUnitsPerCoin,
		PkScript: []byte{0x51}})

	_, err := h.pool.ProcessTransaction(phxutil.NewTx(coinbase))
	require.Error(t, err)
	assert.Equal(t, uint16(100), blockchain.ErrToDoS(err))
}

// TestPoolOrphanPromotion ensures a transaction with missing inputs parks as
// an orphan and connects once its parent arrives.
func TestPoolOrphanPromotion(t *testing.T) {
	h := newTestHarness(t)

	parent := h.spendTx(2)

	// The child spends the parent's first output before the parent is
	// known.
	childMsg := wire.NewMsgTx()
	childMsg.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: *parent.Hash(), Index: 0},
		SignatureScript:  []byte{0x51},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	childMsg.AddTxOut(&wire.TxOut{
		Value:    parent.MsgTx().TxOut[0].Value,
		PkScript: []byte{0x52},
	})
	child := phxutil.NewTx(childMsg)

	accepted, err := h.pool.ProcessTransaction(child)
	require.NoError(t, err)
	assert.Empty(t, accepted, "orphan must not report acceptance")
	assert.True(t, h.pool.HaveTransaction(child.Hash()))
	assert.False(t, h.pool.IsTransactionInPool(child.Hash()))

	// The parent's arrival pulls the orphan into the pool.
	accepted, err = h.pool.ProcessTransaction(parent)
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.True(t, h.pool.IsTransactionInPool(parent.Hash()))
	assert.True(t, h.pool.IsTransactionInPool(child.Hash()))
}

// TestPoolBlockConnected ensures connected blocks shrink the pool.
func TestPoolBlockConnected(t *testing.T) {
	h := newTestHarness(t)

	tx := h.spendTx(2)
	_, err := h.pool.ProcessTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, 1, h.pool.Count())

	// Simulate the chain notification for a block carrying the pool
	// transaction.
	block := phxutil.NewBlock(&wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: []*wire.MsgTx{tx.MsgTx()},
	})
	h.pool.OnBlockConnected(block)
	assert.Equal(t, 0, h.pool.Count())
}

// TestFreeRelayRateLimiter exercises the exponentially decaying free-relay
// counter directly: with a 15 thousand-bytes-per-minute budget the counter
// admits 150000 bytes, rejects past it, and decays with time so later
// submissions are admitted again.
func TestFreeRelayRateLimiter(t *testing.T) {
	pool := New(&Config{
		FreeTxRelayLimit: 15,
		Logger:           zerolog.Nop(),
	})

	// Anchor the decay clock at now so the first call does not decay a
	// stale epoch.
	pool.freeRelayLast = time.Now().Unix()

	const txSize = 500
	accepted := 0
	firstReject := -1
	for i := 0; i < 400; i++ {
		if err := pool.limitFreeRelay(txSize); err != nil {
			firstReject = i
			break
		}
		accepted++
	}

	// The counter admits until it exceeds 15 * 10 * 1000 = 150000 bytes:
	// 301 transactions of 500 bytes (the 301st raises it to 150500 which
	// blocks the next).
	assert.Equal(t, 301, accepted)
	assert.Equal(t, 301, firstReject)

	// Ten minutes later the counter has decayed enough to admit again.
	pool.freeRelayLast -= 600
	assert.NoError(t, pool.limitFreeRelay(txSize))
}
