// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package phxutil provides convenience wrappers around the raw wire types
// which lazily compute and cache expensive values such as hashes and
// serialized sizes.
package phxutil

import (
	"bytes"
	"fmt"
	"io"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// OutOfRangeError describes an error due to accessing an element that is out
// of range.
type OutOfRangeError string

// Error satisfies the error interface and prints human-readable errors.
func (e OutOfRangeError) Error() string {
	return string(e)
}

// BlockHeightUnknown is the value returned for a block height that is unknown.
// This is typically because the block has not been inserted into the main
// chain yet.
const BlockHeightUnknown = int32(-1)

// Block defines a block on the block chain along with lazily computed,
// cached derivatives.
type Block struct {
	msgBlock        *wire.MsgBlock
	serializedBlock []byte
	blockHash       *chainhash.Hash
	blockHeight     int32
	transactions    []*Tx
	txnsGenerated   bool
}

// MsgBlock returns the underlying wire.MsgBlock for the Block.
func (b *Block) MsgBlock() *wire.MsgBlock {
	return b.msgBlock
}

// Bytes returns the serialized bytes for the Block, caching the result.
func (b *Block) Bytes() ([]byte, error) {
	if len(b.serializedBlock) != 0 {
		return b.serializedBlock, nil
	}

	var w bytes.Buffer
	w.Grow(b.msgBlock.SerializeSize())
	if err := b.msgBlock.Serialize(&w); err != nil {
		return nil, err
	}
	b.serializedBlock = w.Bytes()
	return b.serializedBlock, nil
}

// Hash returns the block identifier hash, caching the result.
func (b *Block) Hash() *chainhash.Hash {
	if b.blockHash != nil {
		return b.blockHash
	}

	hash := b.msgBlock.BlockHash()
	b.blockHash = &hash
	return &hash
}

// Tx returns a wrapped transaction for the transaction at the given index.
func (b *Block) Tx(txNum int) (*Tx, error) {
	// Ensure the requested transaction is in range.
	numTx := uint64(len(b.msgBlock.Transactions))
	if txNum < 0 || uint64(txNum) >= numTx {
		str := fmt.Sprintf("transaction index %d is out of range [0, %d)",
			txNum, numTx)
		return nil, OutOfRangeError(str)
	}

	// Generate the wrapped transactions if needed and return the requested
	// one.
	transactions := b.Transactions()
	return transactions[txNum], nil
}

// Transactions returns a slice of wrapped transactions for all transactions
// in the Block, caching the result.
func (b *Block) Transactions() []*Tx {
	// Generate slice to hold all of the wrapped transactions if needed.
	if len(b.transactions) == 0 {
		b.transactions = make([]*Tx, len(b.msgBlock.Transactions))
	}

	// Generate and cache the wrapped transactions for all that haven't
	// already been done.
	if !b.txnsGenerated {
		for i, tx := range b.msgBlock.Transactions {
			if b.transactions[i] == nil {
				newTx := NewTx(tx)
				newTx.SetIndex(i)
				b.transactions[i] = newTx
			}
		}
		b.txnsGenerated = true
	}

	return b.transactions
}

// Height returns the saved height of the block in the block chain.  This value
// will be BlockHeightUnknown if it hasn't already explicitly been set.
func (b *Block) Height() int32 {
	return b.blockHeight
}

// SetHeight sets the height of the block in the block chain.
func (b *Block) SetHeight(height int32) {
	b.blockHeight = height
}

// NewBlock returns a new instance of a block given an underlying
// wire.MsgBlock.  See Block.
func NewBlock(msgBlock *wire.MsgBlock) *Block {
	return &Block{
		msgBlock:    msgBlock,
		blockHeight: BlockHeightUnknown,
	}
}

// NewBlockFromBytes returns a new instance of a block given serialized bytes.
// See Block.
func NewBlockFromBytes(serializedBlock []byte) (*Block, error) {
	br := bytes.NewReader(serializedBlock)
	b, err := NewBlockFromReader(br)
	if err != nil {
		return nil, err
	}
	b.serializedBlock = serializedBlock
	return b, nil
}

// NewBlockFromReader returns a new instance of a block given a Reader to
// deserialize the block.  See Block.
func NewBlockFromReader(r io.Reader) (*Block, error) {
	// Deserialize the bytes into a MsgBlock.
	var msgBlock wire.MsgBlock
	err := msgBlock.Deserialize(r)
	if err != nil {
		return nil, err
	}

	return &Block{
		msgBlock:    &msgBlock,
		blockHeight: BlockHeightUnknown,
	}, nil
}

// NewBlockFromBlockAndBytes returns a new instance of a block given an
// underlying wire.MsgBlock and the serialized bytes for it.  See Block.
func NewBlockFromBlockAndBytes(msgBlock *wire.MsgBlock, serializedBlock []byte) *Block {
	return &Block{
		msgBlock:        msgBlock,
		serializedBlock: serializedBlock,
		blockHeight:     BlockHeightUnknown,
	}
}
