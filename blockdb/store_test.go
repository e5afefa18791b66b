// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// newTestStore opens a store in a fresh temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), wire.SimNet)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestBlockWriteRead round-trips a block through the flat files.
func TestBlockWriteRead(t *testing.T) {
	store := newTestStore(t)
	genesis := chaincfg.MainNetParams.GenesisBlock

	file, blockPos, err := store.WriteBlock(genesis)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), file)
	assert.Equal(t, uint32(blockRecordOverhead), blockPos)

	block, err := store.ReadBlock(file, blockPos)
	require.NoError(t, err)
	assert.Equal(t, genesis.BlockHash(), block.BlockHash())

	header, err := store.ReadHeader(file, blockPos)
	require.NoError(t, err)
	assert.Equal(t, genesis.Header.BlockHash(), header.BlockHash())
}

// TestBlockScan ensures the linear rescan visits every record in order.
func TestBlockScan(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.WriteBlock(chaincfg.MainNetParams.GenesisBlock)
	require.NoError(t, err)
	_, _, err = store.WriteBlock(chaincfg.TestNetParams.GenesisBlock)
	require.NoError(t, err)

	var hashes []chainhash.Hash
	err = store.ScanBlocks(func(file, blockPos uint32, serialized []byte) error {
		var block wire.MsgBlock
		require.NoError(t, block.Deserialize(bytes.NewReader(serialized)))
		hashes = append(hashes, block.BlockHash())
		return nil
	})
	require.NoError(t, err)

	require.Len(t, hashes, 2)
	assert.Equal(t, chaincfg.MainNetParams.GenesisBlock.BlockHash(), hashes[0])
	assert.Equal(t, chaincfg.TestNetParams.GenesisBlock.BlockHash(), hashes[1])
}

// TestReadTxAtOffset reads a transaction back from its recorded intra-block
// offset.
func TestReadTxAtOffset(t *testing.T) {
	store := newTestStore(t)
	genesis := chaincfg.MainNetParams.GenesisBlock

	file, blockPos, err := store.WriteBlock(genesis)
	require.NoError(t, err)

	// The sole transaction begins right after the 80-byte header and the
	// one-byte count.
	pos := DiskTxPos{File: file, BlockPos: blockPos, TxPos: 81}
	tx, err := store.ReadTx(pos)
	require.NoError(t, err)
	assert.Equal(t, genesis.Transactions[0].TxHash(), tx.TxHash())
}

// TestTxIndexBatch covers entry round trips, batch atomicity, and abort.
func TestTxIndexBatch(t *testing.T) {
	store := newTestStore(t)

	txid := chainhash.DoubleHashH([]byte("some tx"))
	entry := NewTxIndexEntry(DiskTxPos{File: 0, BlockPos: 8, TxPos: 81}, 3)
	entry.Spent[1] = DiskTxPos{File: 0, BlockPos: 9999, TxPos: 100}

	// Nothing is visible before commit.
	batch := store.NewBatch()
	batch.UpdateTxIndex(&txid, entry)
	_, exists, err := store.ReadTxIndex(&txid)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, batch.Commit())

	loaded, exists, err := store.ReadTxIndex(&txid)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, entry.Pos, loaded.Pos)
	require.Len(t, loaded.Spent, 3)
	assert.True(t, loaded.Spent[0].IsNull())
	assert.Equal(t, entry.Spent[1], loaded.Spent[1])
	assert.True(t, loaded.Spent[2].IsNull())

	has, err := store.ContainsTx(&txid)
	require.NoError(t, err)
	assert.True(t, has)

	// An aborted batch leaves the store untouched.
	batch = store.NewBatch()
	batch.EraseTxIndex(&txid)
	batch.Abort()
	require.NoError(t, batch.Commit())

	has, err = store.ContainsTx(&txid)
	require.NoError(t, err)
	assert.True(t, has, "aborted erase must not apply")

	// A committed erase applies.
	batch = store.NewBatch()
	batch.EraseTxIndex(&txid)
	require.NoError(t, batch.Commit())
	has, err = store.ContainsTx(&txid)
	require.NoError(t, err)
	assert.False(t, has)
}

// TestBestChainState covers the singleton chain-state keys.
func TestBestChainState(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.BestChain()
	require.NoError(t, err)
	assert.False(t, ok, "fresh store must have no best chain")

	tip := chainhash.DoubleHashH([]byte("tip"))
	batch := store.NewBatch()
	batch.WriteBestChain(&tip)
	require.NoError(t, batch.Commit())

	got, ok, err := store.BestChain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tip, got)
}

// TestBlockIndexRecordRoundTrip serializes an index record through the
// store.
func TestBlockIndexRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := &BlockIndexRecord{
		Header:   chaincfg.MainNetParams.GenesisBlock.Header,
		Height:   12345,
		File:     1,
		BlockPos: 67890,
	}
	hash := rec.Header.BlockHash()

	batch := store.NewBatch()
	require.NoError(t, batch.WriteBlockIndex(&hash, rec))
	require.NoError(t, batch.Commit())

	loaded, ok, err := store.ReadBlockIndex(&hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Height, loaded.Height)
	assert.Equal(t, rec.File, loaded.File)
	assert.Equal(t, rec.BlockPos, loaded.BlockPos)
	assert.Equal(t, hash, loaded.Header.BlockHash())

	count := 0
	err = store.ForEachBlockIndex(func(h chainhash.Hash, r *BlockIndexRecord) error {
		assert.Equal(t, hash, h)
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
