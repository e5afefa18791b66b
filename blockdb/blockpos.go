// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockdb

import (
	"encoding/binary"
)

// DiskTxPos identifies the location of a serialized transaction: the block
// file number, the byte offset of the block record payload within that file,
// and the byte offset of the transaction within the serialized block.
type DiskTxPos struct {
	File     uint32
	BlockPos uint32
	TxPos    uint32
}

// nullPos marks an unspent output in a spent-vector.
var nullPos = DiskTxPos{File: 0xffffffff, BlockPos: 0xffffffff, TxPos: 0xffffffff}

// MemPoolPos is the sentinel position used for transactions that live in the
// memory pool rather than on disk.  Input fetching treats it as a redirect to
// the pool.
var MemPoolPos = DiskTxPos{File: 1, BlockPos: 1, TxPos: 1}

// SetNull marks the position as null (unspent).
func (p *DiskTxPos) SetNull() { *p = nullPos }

// IsNull reports whether the position is the null position.
func (p *DiskTxPos) IsNull() bool { return *p == nullPos }

// IsMemPool reports whether the position is the memory-pool sentinel.
func (p *DiskTxPos) IsMemPool() bool { return *p == MemPoolPos }

// putDiskTxPos serializes the position into buf, which must be at least 12
// bytes, and returns the number of bytes written.
func putDiskTxPos(buf []byte, p DiskTxPos) int {
	binary.LittleEndian.PutUint32(buf[0:4], p.File)
	binary.LittleEndian.PutUint32(buf[4:8], p.BlockPos)
	binary.LittleEndian.PutUint32(buf[8:12], p.TxPos)
	return 12
}

// readDiskTxPos deserializes a position from buf and returns the number of
// bytes consumed.
func readDiskTxPos(buf []byte) (DiskTxPos, int) {
	var p DiskTxPos
	p.File = binary.LittleEndian.Uint32(buf[0:4])
	p.BlockPos = binary.LittleEndian.Uint32(buf[4:8])
	p.TxPos = binary.LittleEndian.Uint32(buf[8:12])
	return p, 12
}

// TxIndexEntry is the persistent record for a connected transaction: where it
// lives on disk plus one position per output recording which transaction, if
// any, spends it.  A null position means the output is unspent.
type TxIndexEntry struct {
	Pos   DiskTxPos
	Spent []DiskTxPos
}

// NewTxIndexEntry returns an entry at the given position with the given
// number of unspent outputs.
func NewTxIndexEntry(pos DiskTxPos, numOutputs int) *TxIndexEntry {
	spent := make([]DiskTxPos, numOutputs)
	for i := range spent {
		spent[i].SetNull()
	}
	return &TxIndexEntry{Pos: pos, Spent: spent}
}

// Clone returns a deep copy of the entry.  Queued change sets copy entries so
// aborted batches leave previously-read values untouched.
func (e *TxIndexEntry) Clone() *TxIndexEntry {
	spent := make([]DiskTxPos, len(e.Spent))
	copy(spent, e.Spent)
	return &TxIndexEntry{Pos: e.Pos, Spent: spent}
}

// serialize encodes the entry: position + varint-free u32 output count +
// spent-vector.
func (e *TxIndexEntry) serialize() []byte {
	buf := make([]byte, 12+4+12*len(e.Spent))
	n := putDiskTxPos(buf, e.Pos)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(e.Spent)))
	n += 4
	for i := range e.Spent {
		n += putDiskTxPos(buf[n:], e.Spent[i])
	}
	return buf
}

// deserializeTxIndexEntry decodes an entry produced by serialize.
func deserializeTxIndexEntry(buf []byte) (*TxIndexEntry, error) {
	if len(buf) < 16 {
		return nil, errCorrupt("short tx index entry")
	}
	var e TxIndexEntry
	pos, n := readDiskTxPos(buf)
	e.Pos = pos
	count := binary.LittleEndian.Uint32(buf[n:])
	n += 4
	if len(buf) != n+12*int(count) {
		return nil, errCorrupt("tx index entry length mismatch")
	}
	e.Spent = make([]DiskTxPos, count)
	for i := range e.Spent {
		e.Spent[i], _ = readDiskTxPos(buf[n:])
		n += 12
	}
	return &e, nil
}
