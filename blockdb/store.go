// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockdb implements the persistent block store: append-only flat
// files holding the serialized blocks, segmented below the 2 GiB seek
// ceiling, plus a key-value index mapping transaction ids to their disk
// positions and per-output spent markers, and block ids to their index
// records.  Durable multi-write operations are expressed as batches that
// commit atomically with a synced write.
package blockdb

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"os"
	"sync"

	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/pkg/errors"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// Key prefixes and singleton keys of the index schema.  The wallet shares the
// same database with its own prefixes which this package never touches.
var (
	txIndexPrefix     = []byte("t") // t<txid> -> TxIndexEntry
	blockIndexPrefix  = []byte("b") // b<blockhash> -> BlockIndexRecord
	bestChainKey      = []byte("B") // -> hash of best chain tip
	bestInvalidKey    = []byte("I") // -> big-endian best invalid work
	checkpointKeyName = []byte("c") // -> sync checkpoint master pubkey
)

// CorruptError marks an inconsistency between the index and the block files.
// It is fatal: the caller reports and exits rather than continuing on a
// damaged store.
type CorruptError struct {
	Description string
}

// Error satisfies the error interface.
func (e CorruptError) Error() string { return "blockdb: " + e.Description }

func errCorrupt(desc string) error { return CorruptError{Description: desc} }

// IsCorruptError reports whether err marks store corruption.
func IsCorruptError(err error) bool {
	_, ok := errors.Cause(err).(CorruptError)
	return ok
}

// BlockIndexRecord is the persistent form of a block-index node: the header
// fields plus the chain position and disk location.
type BlockIndexRecord struct {
	Header   wire.BlockHeader
	Height   int32
	File     uint32
	BlockPos uint32
}

// serialize encodes the record as the 80-byte header followed by height and
// disk position.
func (r *BlockIndexRecord) serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Header.Serialize(&buf); err != nil {
		return nil, err
	}
	var tail [12]byte
	binary.LittleEndian.PutUint32(tail[0:4], uint32(r.Height))
	binary.LittleEndian.PutUint32(tail[4:8], r.File)
	binary.LittleEndian.PutUint32(tail[8:12], r.BlockPos)
	buf.Write(tail[:])
	return buf.Bytes(), nil
}

// deserializeBlockIndexRecord decodes a record produced by serialize.
func deserializeBlockIndexRecord(b []byte) (*BlockIndexRecord, error) {
	if len(b) != 80+12 {
		return nil, errCorrupt("block index record length mismatch")
	}
	var r BlockIndexRecord
	if err := r.Header.Deserialize(bytes.NewReader(b[:80])); err != nil {
		return nil, err
	}
	r.Height = int32(binary.LittleEndian.Uint32(b[80:84]))
	r.File = binary.LittleEndian.Uint32(b[84:88])
	r.BlockPos = binary.LittleEndian.Uint32(b[88:92])
	return &r, nil
}

// Store couples the block files with the key-value index.
type Store struct {
	mtx sync.RWMutex

	files *blockFiles
	db    *leveldb.DB
}

// Open opens, creating when necessary, the block store rooted at dataDir for
// the given network.
func Open(dataDir string, net wire.PhoenixNet) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, errors.Wrap(err, "blockdb: create data dir")
	}

	files, err := openBlockFiles(dataDir, net)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(dataDir+"/index", &opt.Options{})
	if err != nil {
		files.Close()
		return nil, errors.Wrap(err, "blockdb: open index")
	}

	return &Store{files: files, db: db}, nil
}

// Close flushes and releases the underlying resources.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	ferr := s.files.Close()
	derr := s.db.Close()
	if ferr != nil {
		return ferr
	}
	return derr
}

// WriteBlock appends the serialized block to the block files and syncs it.
// The returned position is recorded by the caller in the block index.
func (s *Store) WriteBlock(block *wire.MsgBlock) (uint32, uint32, error) {
	var buf bytes.Buffer
	buf.Grow(block.SerializeSize())
	if err := block.Serialize(&buf); err != nil {
		return 0, 0, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	file, pos, err := s.files.writeBlock(buf.Bytes())
	if err != nil {
		return 0, 0, err
	}
	if err := s.files.sync(); err != nil {
		return 0, 0, errors.Wrap(err, "blockdb: sync block file")
	}
	return file, pos, nil
}

// ReadBlock loads and deserializes the block stored at the given position.
func (s *Store) ReadBlock(file, blockPos uint32) (*wire.MsgBlock, error) {
	s.mtx.RLock()
	serialized, err := s.files.readBlock(file, blockPos)
	s.mtx.RUnlock()
	if err != nil {
		return nil, err
	}

	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(serialized)); err != nil {
		return nil, errCorrupt("stored block failed to deserialize: " + err.Error())
	}
	return &block, nil
}

// ReadHeader loads only the 80-byte header of the block stored at the given
// position.  Depth lookups use it to identify the block a transaction lives
// in without deserializing the whole block.
func (s *Store) ReadHeader(file, blockPos uint32) (*wire.BlockHeader, error) {
	s.mtx.RLock()
	serialized, err := s.files.readBlock(file, blockPos)
	s.mtx.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(serialized) < 80 {
		return nil, errCorrupt("stored block shorter than a header")
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(serialized[:80])); err != nil {
		return nil, errCorrupt("stored header failed to deserialize: " + err.Error())
	}
	return &header, nil
}

// ReadTx loads and deserializes the transaction at the given position using
// the recorded intra-block offset.
func (s *Store) ReadTx(pos DiskTxPos) (*wire.MsgTx, error) {
	s.mtx.RLock()
	serialized, err := s.files.readBlock(pos.File, pos.BlockPos)
	s.mtx.RUnlock()
	if err != nil {
		return nil, err
	}
	if int(pos.TxPos) >= len(serialized) {
		return nil, errCorrupt("tx position beyond block payload")
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(serialized[pos.TxPos:])); err != nil {
		return nil, errCorrupt("stored tx failed to deserialize: " + err.Error())
	}
	return &tx, nil
}

// ScanBlocks walks every stored block in file order.  See blockFiles.scan.
func (s *Store) ScanBlocks(fn func(file, blockPos uint32, serialized []byte) error) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.files.scan(fn)
}

// ReadTxIndex fetches the index entry for a transaction id.  The boolean
// reports whether the entry exists.
func (s *Store) ReadTxIndex(txid *chainhash.Hash) (*TxIndexEntry, bool, error) {
	val, err := s.db.Get(txKey(txid), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "blockdb: read tx index")
	}
	entry, err := deserializeTxIndexEntry(val)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// ContainsTx reports whether the transaction id has an index entry.
func (s *Store) ContainsTx(txid *chainhash.Hash) (bool, error) {
	ok, err := s.db.Has(txKey(txid), nil)
	if err != nil {
		return false, errors.Wrap(err, "blockdb: probe tx index")
	}
	return ok, nil
}

// ReadBlockIndex fetches the index record for a block id.
func (s *Store) ReadBlockIndex(hash *chainhash.Hash) (*BlockIndexRecord, bool, error) {
	val, err := s.db.Get(blockKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "blockdb: read block index")
	}
	rec, err := deserializeBlockIndexRecord(val)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// ForEachBlockIndex invokes fn for every stored block index record.  This is
// the chain-state bootstrap path.
func (s *Store) ForEachBlockIndex(fn func(hash chainhash.Hash, rec *BlockIndexRecord) error) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		if len(key) != 1+chainhash.HashSize || key[0] != blockIndexPrefix[0] {
			continue
		}
		var hash chainhash.Hash
		copy(hash[:], key[1:])
		rec, err := deserializeBlockIndexRecord(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(hash, rec); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "blockdb: block index iteration")
}

// BestChain returns the hash of the recorded best chain tip, or false when
// the store is fresh.
func (s *Store) BestChain() (chainhash.Hash, bool, error) {
	var hash chainhash.Hash
	val, err := s.db.Get(bestChainKey, nil)
	if err == leveldb.ErrNotFound {
		return hash, false, nil
	}
	if err != nil {
		return hash, false, errors.Wrap(err, "blockdb: read best chain")
	}
	if len(val) != chainhash.HashSize {
		return hash, false, errCorrupt("best chain hash length mismatch")
	}
	copy(hash[:], val)
	return hash, true, nil
}

// BestInvalidWork returns the recorded cumulative work of the most-work
// invalid chain observed so far.
func (s *Store) BestInvalidWork() (*big.Int, error) {
	val, err := s.db.Get(bestInvalidKey, nil)
	if err == leveldb.ErrNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "blockdb: read best invalid work")
	}
	return new(big.Int).SetBytes(val), nil
}

// CheckpointPubKey returns the stored sync checkpoint master public key, nil
// when none has been stored.
func (s *Store) CheckpointPubKey() ([]byte, error) {
	val, err := s.db.Get(checkpointKeyName, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "blockdb: read checkpoint pubkey")
	}
	return val, nil
}

// Batch collects index mutations that commit atomically.  Mutations are
// buffered in memory; nothing is visible to readers until Commit returns.
type Batch struct {
	store *Store
	batch *leveldb.Batch
}

// NewBatch starts a new durable batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, batch: new(leveldb.Batch)}
}

// UpdateTxIndex queues a write of the tx index entry.
func (b *Batch) UpdateTxIndex(txid *chainhash.Hash, entry *TxIndexEntry) {
	b.batch.Put(txKey(txid), entry.serialize())
}

// EraseTxIndex queues a delete of the tx index entry.
func (b *Batch) EraseTxIndex(txid *chainhash.Hash) {
	b.batch.Delete(txKey(txid))
}

// WriteBlockIndex queues a write of the block index record.
func (b *Batch) WriteBlockIndex(hash *chainhash.Hash, rec *BlockIndexRecord) error {
	val, err := rec.serialize()
	if err != nil {
		return err
	}
	b.batch.Put(blockKey(hash), val)
	return nil
}

// WriteBestChain queues a write of the best chain tip hash.
func (b *Batch) WriteBestChain(hash *chainhash.Hash) {
	b.batch.Put(bestChainKey, hash[:])
}

// WriteBestInvalidWork queues a write of the best invalid work statistic.
func (b *Batch) WriteBestInvalidWork(work *big.Int) {
	b.batch.Put(bestInvalidKey, work.Bytes())
}

// WriteCheckpointPubKey queues a write of the checkpoint master public key.
func (b *Batch) WriteCheckpointPubKey(pubKey []byte) {
	b.batch.Put(checkpointKeyName, pubKey)
}

// Commit atomically applies the batch with a synced write.  On error nothing
// is applied.
func (b *Batch) Commit() error {
	err := b.store.db.Write(b.batch, &opt.WriteOptions{Sync: true})
	return errors.Wrap(err, "blockdb: commit batch")
}

// Abort drops the buffered mutations.
func (b *Batch) Abort() {
	b.batch.Reset()
}

func txKey(txid *chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = txIndexPrefix[0]
	copy(key[1:], txid[:])
	return key
}

func blockKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = blockIndexPrefix[0]
	copy(key[1:], hash[:])
	return key
}
