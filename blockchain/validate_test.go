// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// TestGenesisBlockHash ensures the hard-coded genesis hashes match the
// assembled genesis blocks.
func TestGenesisBlockHash(t *testing.T) {
	mainHash := chaincfg.MainNetParams.GenesisBlock.BlockHash()
	assert.Equal(t, chaincfg.MainNetParams.GenesisHash.String(), mainHash.String(),
		"main network genesis hash mismatch")

	testHash := chaincfg.TestNetParams.GenesisBlock.BlockHash()
	assert.Equal(t, chaincfg.TestNetParams.GenesisHash.String(), testHash.String(),
		"test network genesis hash mismatch")
}

// validTestTx builds a minimal valid regular transaction.
func validTestTx() *wire.MsgTx {
	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
		SignatureScript:  []byte{0x51},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 100000000, PkScript: []byte{0x51}})
	return tx
}

// TestCheckTransaction exercises the context free transaction checks.
func TestCheckTransaction(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*wire.MsgTx)
		code    ErrorCode
		dos     uint16
		wantErr bool
	}{
		{name: "valid", mutate: func(*wire.MsgTx) {}},
		{
			name:    "no inputs",
			mutate:  func(tx *wire.MsgTx) { tx.TxIn = nil },
			code:    ErrNoTxInputs,
			dos:     10,
			wantErr: true,
		},
		{
			name:    "no outputs",
			mutate:  func(tx *wire.MsgTx) { tx.TxOut = nil },
			code:    ErrNoTxOutputs,
			dos:     10,
			wantErr: true,
		},
		{
			name: "negative output",
			mutate: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = -1
			},
			code:    ErrBadTxOutValue,
			dos:     100,
			wantErr: true,
		},
		{
			name: "oversized output",
			mutate: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = MaxMoney + 1
			},
			code:    ErrBadTxOutValue,
			dos:     100,
			wantErr: true,
		},
		{
			name: "output sum overflow",
			mutate: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = MaxMoney
				tx.AddTxOut(&wire.TxOut{Value: MaxMoney, PkScript: []byte{0x51}})
			},
			code:    ErrBadTxOutValue,
			dos:     100,
			wantErr: true,
		},
		{
			name: "duplicate inputs",
			mutate: func(tx *wire.MsgTx) {
				tx.AddTxIn(&wire.TxIn{
					PreviousOutPoint: tx.TxIn[0].PreviousOutPoint,
					SignatureScript:  []byte{0x52},
					Sequence:         wire.MaxTxInSequenceNum,
				})
			},
			code:    ErrDuplicateTxInputs,
			wantErr: true,
		},
		{
			name: "null prevout on regular tx",
			mutate: func(tx *wire.MsgTx) {
				tx.TxIn[0].PreviousOutPoint.SetNull()
				tx.AddTxIn(&wire.TxIn{
					PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}},
					SignatureScript:  []byte{0x51},
					Sequence:         wire.MaxTxInSequenceNum,
				})
			},
			code:    ErrBadTxInput,
			dos:     10,
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			msgTx := validTestTx()
			test.mutate(msgTx)

			err := CheckTransaction(phxutil.NewTx(msgTx))
			if !test.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, test.code),
				"wrong error code: %v", err)
			assert.Equal(t, test.dos, ErrToDoS(err))
		})
	}
}

// TestCheckTransactionCoinbase exercises the coinbase script bounds.
func TestCheckTransactionCoinbase(t *testing.T) {
	coinbase := func(scriptLen int) *phxutil.Tx {
		tx := wire.NewMsgTx()
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: wire.MaxPrevOutIndex,
			},
			SignatureScript: make([]byte, scriptLen),
			Sequence:        wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{Value: 50 * BaseUnitsPerCoin, PkScript: []byte{0x51}})
		return phxutil.NewTx(tx)
	}

	assert.NoError(t, CheckTransaction(coinbase(2)))
	assert.NoError(t, CheckTransaction(coinbase(100)))

	err := CheckTransaction(coinbase(1))
	require.Error(t, err)
	assert.Equal(t, uint16(100), ErrToDoS(err))

	err = CheckTransaction(coinbase(101))
	require.Error(t, err)
	assert.Equal(t, uint16(100), ErrToDoS(err))
}

// TestCalcBlockSubsidy verifies the fork-aware subsidy schedule on the main
// network.
func TestCalcBlockSubsidy(t *testing.T) {
	params := &chaincfg.MainNetParams
	coin := BaseUnitsPerCoin

	tests := []struct {
		height int32
		want   int64
	}{
		{0, 50 * coin},
		{74099, 50 * coin},               // just before the third fork
		{74100, 25 * coin},               // third fork cuts to 25
		{153999, 25 * coin},              // still between forks three and four
		{154000, 50 * coin},              // fourth fork restores 50
		{999999, 50 * coin},              // up to the first halving boundary
		{1000000, 25 * coin},             // first halving
		{2000000, 50 * coin / 4},         // 12.5
		{3000000, 50 * coin / 8},         // halving every million thereafter
	}
	for _, test := range tests {
		got := CalcBlockSubsidy(test.height, params)
		assert.Equalf(t, test.want, got, "subsidy at height %d", test.height)
	}
}

// TestCheckBlockSanity runs the context free block checks over the genesis
// block, plus a couple of corrupted variants.
func TestCheckBlockSanity(t *testing.T) {
	params := &chaincfg.MainNetParams
	timeSource := NewMedianTime(testLogger())

	block := phxutil.NewBlock(params.GenesisBlock)

	// The proof-of-work digest of the memory-hard profile is exercised
	// elsewhere; the structural checks run against the real genesis.
	err := checkBlockSanity(block, params, noopHasher{}, timeSource, BFNoPoWCheck)
	require.NoError(t, err)

	// A corrupted merkle root must be caught.
	bad := *params.GenesisBlock
	bad.Header.MerkleRoot = chainhash.Hash{0xde, 0xad}
	err = checkBlockSanity(phxutil.NewBlock(&bad), params, noopHasher{},
		timeSource, BFNoPoWCheck)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrBadMerkleRoot), "got %v", err)
	assert.Equal(t, uint16(100), ErrToDoS(err))

	// A block without transactions must be caught.
	empty := wire.MsgBlock{Header: params.GenesisBlock.Header}
	err = checkBlockSanity(phxutil.NewBlock(&empty), params, noopHasher{},
		timeSource, BFNoPoWCheck)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrNoTransactions), "got %v", err)
}

// noopHasher satisfies the hasher interface for tests that skip the
// proof-of-work check.
type noopHasher struct{}

func (noopHasher) Name() string { return "noop" }
func (noopHasher) PoWHash(header []byte) chainhash.Hash {
	return chainhash.DoubleHashH(header)
}
