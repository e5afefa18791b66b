// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// maxBlockFileSize is the rotation boundary for block files.  It stays
	// a maximum payload short of 2 GiB so the offsets recorded in the
	// index always fit 32-bit file positions on every platform.
	maxBlockFileSize = 0x80000000 - wire.MaxMessagePayload

	// blockRecordOverhead is the per-record framing: network magic plus
	// the u32 payload size.
	blockRecordOverhead = 8
)

// blockFileName returns the name of the numbered block file.
func blockFileName(dataDir string, fileNum uint32) string {
	return filepath.Join(dataDir, fmt.Sprintf("blk%04d.dat", fileNum))
}

// blockFiles manages the append-only flat files the serialized blocks live
// in.  All writes go through the single shared handle of the current file;
// reads open short-lived handles per call.
type blockFiles struct {
	dataDir string
	net     wire.PhoenixNet

	writeFileNum uint32
	writeOffset  uint32
	writeFile    *os.File
}

// openBlockFiles scans the data directory for the highest numbered block file
// and positions the write cursor at its end.
func openBlockFiles(dataDir string, net wire.PhoenixNet) (*blockFiles, error) {
	bf := &blockFiles{dataDir: dataDir, net: net}

	for {
		st, err := os.Stat(blockFileName(dataDir, bf.writeFileNum+1))
		if err != nil || st.IsDir() {
			break
		}
		bf.writeFileNum++
	}

	f, err := os.OpenFile(blockFileName(dataDir, bf.writeFileNum),
		os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "blockdb: open block file")
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "blockdb: seek block file")
	}
	bf.writeFile = f
	bf.writeOffset = uint32(end)
	return bf, nil
}

// Close releases the shared write handle.
func (bf *blockFiles) Close() error {
	if bf.writeFile == nil {
		return nil
	}
	err := bf.writeFile.Close()
	bf.writeFile = nil
	return err
}

// rotate closes the current file and opens the next numbered one.
func (bf *blockFiles) rotate() error {
	if err := bf.writeFile.Sync(); err != nil {
		return errors.Wrap(err, "blockdb: sync before rotate")
	}
	if err := bf.writeFile.Close(); err != nil {
		return errors.Wrap(err, "blockdb: close before rotate")
	}

	bf.writeFileNum++
	f, err := os.OpenFile(blockFileName(bf.dataDir, bf.writeFileNum),
		os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrap(err, "blockdb: open next block file")
	}
	bf.writeFile = f
	bf.writeOffset = 0
	return nil
}

// writeBlock appends a framed block record and returns the file number and
// the byte offset of the record payload (the serialized block itself).
func (bf *blockFiles) writeBlock(serialized []byte) (uint32, uint32, error) {
	recordLen := uint32(blockRecordOverhead + len(serialized))
	if bf.writeOffset+recordLen > maxBlockFileSize {
		if err := bf.rotate(); err != nil {
			return 0, 0, err
		}
	}

	var hdr [blockRecordOverhead]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(bf.net))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(serialized)))

	if _, err := bf.writeFile.Write(hdr[:]); err != nil {
		return 0, 0, errors.Wrap(err, "blockdb: write record header")
	}
	if _, err := bf.writeFile.Write(serialized); err != nil {
		return 0, 0, errors.Wrap(err, "blockdb: write block")
	}

	blockPos := bf.writeOffset + blockRecordOverhead
	bf.writeOffset += recordLen
	return bf.writeFileNum, blockPos, nil
}

// sync flushes the current file to stable storage.
func (bf *blockFiles) sync() error {
	return bf.writeFile.Sync()
}

// readBlock reads the serialized block stored at the given position.  The
// record framing preceding the payload is validated against the network
// magic.
func (bf *blockFiles) readBlock(file, blockPos uint32) ([]byte, error) {
	f, err := os.Open(blockFileName(bf.dataDir, file))
	if err != nil {
		return nil, errors.Wrap(err, "blockdb: open block file for read")
	}
	defer f.Close()

	if blockPos < blockRecordOverhead {
		return nil, errCorrupt("block position inside record framing")
	}
	var hdr [blockRecordOverhead]byte
	if _, err := f.ReadAt(hdr[:], int64(blockPos)-blockRecordOverhead); err != nil {
		return nil, errors.Wrap(err, "blockdb: read record header")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != uint32(bf.net) {
		return nil, errCorrupt("block record magic mismatch")
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size > wire.MaxMessagePayload {
		return nil, errCorrupt("block record size exceeds maximum")
	}

	serialized := make([]byte, size)
	if _, err := f.ReadAt(serialized, int64(blockPos)); err != nil {
		return nil, errors.Wrap(err, "blockdb: read block payload")
	}
	return serialized, nil
}

// scan walks every record of every block file in order, invoking fn with the
// file number, payload offset, and the serialized block.  It is used by the
// startup rescan to rebuild a damaged index.
func (bf *blockFiles) scan(fn func(file, blockPos uint32, serialized []byte) error) error {
	for fileNum := uint32(0); fileNum <= bf.writeFileNum; fileNum++ {
		f, err := os.Open(blockFileName(bf.dataDir, fileNum))
		if err != nil {
			return errors.Wrap(err, "blockdb: open block file for scan")
		}

		offset := int64(0)
		for {
			var hdr [blockRecordOverhead]byte
			_, err := f.ReadAt(hdr[:], offset)
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return errors.Wrap(err, "blockdb: scan record header")
			}
			if binary.LittleEndian.Uint32(hdr[0:4]) != uint32(bf.net) {
				// Preallocated or torn space at the tail.
				break
			}
			size := binary.LittleEndian.Uint32(hdr[4:8])
			if size > wire.MaxMessagePayload {
				f.Close()
				return errCorrupt("scanned block record size exceeds maximum")
			}

			serialized := make([]byte, size)
			if _, err := f.ReadAt(serialized, offset+blockRecordOverhead); err != nil {
				f.Close()
				return errors.Wrap(err, "blockdb: scan block payload")
			}
			if err := fn(fileNum, uint32(offset)+blockRecordOverhead, serialized); err != nil {
				f.Close()
				return err
			}
			offset += blockRecordOverhead + int64(size)
		}
		f.Close()
	}
	return nil
}
