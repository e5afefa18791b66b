// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// testLogger returns a disabled logger for tests.
func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// newTestChain creates a fresh simulation-network chain backed by a
// temporary block store.
func newTestChain(t *testing.T) (*BlockChain, *blockdb.Store) {
	t.Helper()

	store, err := blockdb.Open(t.TempDir(), wire.SimNet)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chain, err := New(&Config{
		Store:          store,
		ChainParams:    &chaincfg.SimNetParams,
		TimeSource:     NewMedianTime(testLogger()),
		ScriptVerifier: txscript.NopVerifier{},
		Logger:         testLogger(),
	})
	require.NoError(t, err)
	return chain, store
}

// solveTestBlock grinds the nonce of the header until the sha256d digest
// satisfies the simulation network target.  The relaxed target makes this a
// couple of attempts on average.
func solveTestBlock(t *testing.T, header *wire.BlockHeader) {
	t.Helper()

	target := pow.CompactToBig(header.Bits)
	hasher := pow.SHA256dHasher{}
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		hash := header.PowHash(hasher)
		if pow.HashToBig((*[32]byte)(&hash)).Cmp(target) <= 0 {
			return
		}
		if nonce == ^uint32(0) {
			t.Fatal("nonce space exhausted")
		}
	}
}

// childBlock builds and solves a valid empty child of the given parent.  The
// extra value makes the coinbase, and therefore the block, unique.
func childBlock(t *testing.T, parentHash chainhash.Hash, parentHeight int32,
	parentTime int64, extra uint32) *phxutil.Block {
	t.Helper()

	height := parentHeight + 1

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
		Value:    CalcBlockSubsidy(height, &chaincfg.SimNetParams),
		PkScript: []byte{0x51},
	})

	block := phxutil.NewBlock(&wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			PrevBlock: parentHash,
			Timestamp: time.Unix(parentTime+60, 0),
			Bits:      chaincfg.SimNetParams.PowLimitBits,
		},
		Transactions: []*wire.MsgTx{coinbase},
	})
	block.MsgBlock().Header.MerkleRoot = CalcMerkleRoot(block.Transactions())
	solveTestBlock(t, &block.MsgBlock().Header)
	block.SetHeight(height)
	return block
}

// extendTip builds a solved child of the current best chain tip.
func extendTip(t *testing.T, chain *BlockChain, extra uint32) *phxutil.Block {
	best := chain.BestSnapshot()
	return childBlock(t, best.Hash, best.Height, best.MedianTime.Unix()+120, extra)
}

// TestGenesisBootstrap covers starting from an empty store: the best chain
// must be the genesis block, carry its work, and occupy exactly one record
// in the first block file.
func TestGenesisBootstrap(t *testing.T) {
	chain, store := newTestChain(t)

	best := chain.BestSnapshot()
	assert.Equal(t, int32(0), best.Height)
	assert.Equal(t, chaincfg.SimNetParams.GenesisHash.String(), best.Hash.String())
	assert.Equal(t, pow.CalcWork(chaincfg.SimNetParams.PowLimitBits).String(),
		best.WorkSum.String())

	records := 0
	err := store.ScanBlocks(func(file, blockPos uint32, serialized []byte) error {
		assert.Equal(t, uint32(0), file)
		records++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, records)

	// The genesis coinbase must be indexed.
	genesisCoinbase := phxutil.NewBlock(chaincfg.SimNetParams.GenesisBlock).
		Transactions()[0]
	mined, err := chain.HaveTxIndexEntry(genesisCoinbase.Hash())
	require.NoError(t, err)
	assert.True(t, mined)
}

// TestLinearExtension covers receiving a valid child of the tip.
func TestLinearExtension(t *testing.T) {
	chain, _ := newTestChain(t)

	block := extendTip(t, chain, 1)
	isMain, isOrphan, err := chain.ProcessBlock(block, nil, BFNone)
	require.NoError(t, err)
	assert.True(t, isMain)
	assert.False(t, isOrphan)

	best := chain.BestSnapshot()
	assert.Equal(t, int32(1), best.Height)
	assert.Equal(t, block.Hash().String(), best.Hash.String())

	// A duplicate submission must be rejected as benign.
	_, _, err = chain.ProcessBlock(block, nil, BFNone)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrDuplicateBlock))
	assert.Equal(t, uint16(0), ErrToDoS(err))
}

// TestForkReorganization covers scenario three: two siblings extend the tip,
// the first arriving becomes the tip, and a longer chain built on the second
// forces a reorganization that rewinds the first.
func TestForkReorganization(t *testing.T) {
	chain, store := newTestChain(t)

	genesis := chain.BestSnapshot()

	blockA := childBlock(t, genesis.Hash, 0, genesis.MedianTime.Unix()+120, 0xa)
	isMain, _, err := chain.ProcessBlock(blockA, nil, BFNone)
	require.NoError(t, err)
	require.True(t, isMain)

	// The sibling carries equal cumulative work and stays a side chain.
	blockB := childBlock(t, genesis.Hash, 0, genesis.MedianTime.Unix()+120, 0xb)
	isMain, isOrphan, err := chain.ProcessBlock(blockB, nil, BFNone)
	require.NoError(t, err)
	assert.False(t, isMain)
	assert.False(t, isOrphan)
	assert.Equal(t, blockA.Hash().String(), chain.BestSnapshot().Hash.String())

	// Extending the sibling exceeds the tip's work and triggers the
	// reorganization.
	blockB2 := childBlock(t, *blockB.Hash(), 1,
		blockB.MsgBlock().Header.Timestamp.Unix(), 0xb2)
	isMain, _, err = chain.ProcessBlock(blockB2, nil, BFNone)
	require.NoError(t, err)
	assert.True(t, isMain)

	best := chain.BestSnapshot()
	assert.Equal(t, int32(2), best.Height)
	assert.Equal(t, blockB2.Hash().String(), best.Hash.String())

	// The rewound branch's transactions must be gone from the tx-index
	// while the connected branch's are present.
	minedA, err := store.ContainsTx(blockA.Transactions()[0].Hash())
	require.NoError(t, err)
	assert.False(t, minedA, "disconnected coinbase still indexed")

	minedB, err := store.ContainsTx(blockB.Transactions()[0].Hash())
	require.NoError(t, err)
	assert.True(t, minedB)
	minedB2, err := store.ContainsTx(blockB2.Transactions()[0].Hash())
	require.NoError(t, err)
	assert.True(t, minedB2)

	// The rewound sibling stays known on its side chain.
	assert.True(t, chain.HaveBlock(blockA.Hash()))
	assert.False(t, chain.MainChainHasBlock(blockA.Hash()))
	assert.True(t, chain.MainChainHasBlock(blockB.Hash()))
}

// recordingBlockSource captures the gap-fill requests issued for orphans.
type recordingBlockSource struct {
	getBlocksStops []chainhash.Hash
	requested      []chainhash.Hash
}

func (r *recordingBlockSource) PushGetBlocks(locator BlockLocator,
	stopHash *chainhash.Hash) error {
	r.getBlocksStops = append(r.getBlocksStops, *stopHash)
	return nil
}

func (r *recordingBlockSource) RequestBlock(hash *chainhash.Hash) {
	r.requested = append(r.requested, *hash)
}

// TestOrphanBlockChain covers scenario four: a block arriving before its
// parent parks in the orphan pool and connects once the gap closes.
func TestOrphanBlockChain(t *testing.T) {
	chain, _ := newTestChain(t)

	block1 := extendTip(t, chain, 1)
	_, _, err := chain.ProcessBlock(block1, nil, BFNone)
	require.NoError(t, err)

	block2 := childBlock(t, *block1.Hash(), 1,
		block1.MsgBlock().Header.Timestamp.Unix(), 2)
	block3 := childBlock(t, *block2.Hash(), 2,
		block2.MsgBlock().Header.Timestamp.Unix(), 3)

	// The grandchild arrives first: it must park as an orphan and the
	// sender must be asked for the ancestor chain.
	source := &recordingBlockSource{}
	isMain, isOrphan, err := chain.ProcessBlock(block3, source, BFNone)
	require.NoError(t, err)
	assert.False(t, isMain)
	assert.True(t, isOrphan)
	assert.True(t, chain.IsKnownOrphan(block3.Hash()))
	require.NotEmpty(t, source.getBlocksStops)
	assert.Equal(t, block3.Hash().String(), source.getBlocksStops[0].String())

	// The orphan root's missing parent is the gap to fill.
	wanted := chain.WantedOrphanParent(block3.Hash())
	assert.Equal(t, block2.Hash().String(), wanted.String())

	// Once the missing parent arrives, both blocks connect.
	isMain, isOrphan, err = chain.ProcessBlock(block2, source, BFNone)
	require.NoError(t, err)
	assert.True(t, isMain)
	assert.False(t, isOrphan)

	best := chain.BestSnapshot()
	assert.Equal(t, int32(3), best.Height)
	assert.Equal(t, block3.Hash().String(), best.Hash.String())
	assert.False(t, chain.IsKnownOrphan(block3.Hash()))
}

// TestChainStateReload ensures the chain resumes from the stored index after
// a restart.
func TestChainStateReload(t *testing.T) {
	dir := t.TempDir()

	store, err := blockdb.Open(dir, wire.SimNet)
	require.NoError(t, err)
	chain, err := New(&Config{
		Store:          store,
		ChainParams:    &chaincfg.SimNetParams,
		TimeSource:     NewMedianTime(testLogger()),
		ScriptVerifier: txscript.NopVerifier{},
		Logger:         testLogger(),
	})
	require.NoError(t, err)

	block := extendTip(t, chain, 7)
	_, _, err = chain.ProcessBlock(block, nil, BFNone)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = blockdb.Open(dir, wire.SimNet)
	require.NoError(t, err)
	defer store.Close()

	reloaded, err := New(&Config{
		Store:          store,
		ChainParams:    &chaincfg.SimNetParams,
		TimeSource:     NewMedianTime(testLogger()),
		ScriptVerifier: txscript.NopVerifier{},
		Logger:         testLogger(),
	})
	require.NoError(t, err)

	best := reloaded.BestSnapshot()
	assert.Equal(t, int32(1), best.Height)
	assert.Equal(t, block.Hash().String(), best.Hash.String())
}

// TestRequiredDifficultyMismatch ensures a block carrying the wrong target
// is rejected with the full misbehavior score.
func TestRequiredDifficultyMismatch(t *testing.T) {
	chain, _ := newTestChain(t)

	block := extendTip(t, chain, 1)
	block.MsgBlock().Header.Bits = 0x207ffffe
	block.MsgBlock().Header.MerkleRoot = CalcMerkleRoot(block.Transactions())
	solveTestBlock(t, &block.MsgBlock().Header)

	_, _, err := chain.ProcessBlock(block, nil, BFNone)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrBadDiffBits), "got %v", err)
	assert.Equal(t, uint16(100), ErrToDoS(err))
}

// TestTimeBehindMedian ensures a block whose time does not advance past the
// parent median is rejected.
func TestTimeBehindMedian(t *testing.T) {
	chain, _ := newTestChain(t)

	genesis := chain.BestSnapshot()
	block := childBlock(t, genesis.Hash, 0, genesis.MedianTime.Unix()-61, 1)
	_, _, err := chain.ProcessBlock(block, nil, BFNone)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrTimeTooOld), "got %v", err)
}
