// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// The helpers in this file are the validation surface the memory pool and
// the template builder share with block connection.  None of them acquire
// the chain state lock themselves: callers bracket their whole admission or
// assembly sequence between StateLock and StateUnlock so the tip and the
// tx-index cannot shift partway through.  The chain's own notification
// callbacks run with the lock already held and may therefore use these
// helpers directly.

// StateLock acquires the chain state lock.  It is the outermost lock of the
// system: the memory pool lock and the per-peer locks always nest inside it.
func (b *BlockChain) StateLock() { b.chainLock.Lock() }

// StateUnlock releases the chain state lock.
func (b *BlockChain) StateUnlock() { b.chainLock.Unlock() }

// FetchMempoolInputs resolves the previous transactions of a loose
// transaction for mempool admission.  The missing flag signals the caller to
// treat the transaction as an orphan; the invalid flag means a previous
// transaction exists but an output index is out of range.  The pool passes
// its own lock-free lookup since it holds the pool lock for the whole
// admission.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) FetchMempoolInputs(tx *phxutil.Tx, poolLookup PoolTxLookup) (TxStore, bool, bool, error) {
	return b.fetchInputs(tx, nil, poolLookup, false, false)
}

// CheckConnectInputs runs the two-pass input connection of a loose
// transaction in dry-run mode against a private change set, returning the
// transaction fee.  Nothing is persisted.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) CheckConnectInputs(tx *phxutil.Tx, inputs TxStore) (int64, error) {
	queued := make(TxStore)
	return b.connectInputs(tx, inputs, queued, blockdb.MemPoolPos,
		b.bestChain, false, false, true)
}

// HaveTxIndexEntry reports whether the transaction id is recorded in the
// persistent tx-index, meaning it has been mined into the active chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) HaveTxIndexEntry(hash *chainhash.Hash) (bool, error) {
	return b.store.ContainsTx(hash)
}

// TxIndexDepth returns the number of confirmations of the transaction with
// the given index entry: the distance from the block it lives in to the tip,
// plus one.  Zero means the containing block left the active chain.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) TxIndexDepth(entry *blockdb.TxIndexEntry) (int32, error) {
	if entry.Pos.IsMemPool() {
		return 0, nil
	}

	header, err := b.store.ReadHeader(entry.Pos.File, entry.Pos.BlockPos)
	if err != nil {
		return 0, err
	}
	blockHash := header.BlockHash()

	node := b.index.LookupNode(&blockHash)
	if node == nil || !b.mainChainContains(node) {
		return 0, nil
	}
	return b.bestChain.height - node.height + 1, nil
}

// FetchTxEntry loads the index entry and the transaction itself for a mined
// transaction id.  The boolean reports whether the id is indexed.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) FetchTxEntry(hash *chainhash.Hash) (*blockdb.TxIndexEntry, *wire.MsgTx, bool, error) {
	entry, ok, err := b.store.ReadTxIndex(hash)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	msgTx, err := b.store.ReadTx(entry.Pos)
	if err != nil {
		return nil, nil, false, err
	}
	return entry, msgTx, true, nil
}

// FetchMinerInputs resolves the previous transactions of a candidate
// template transaction against the given queued change set.  Missing inputs
// make the transaction wait for its in-template dependencies.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) FetchMinerInputs(tx *phxutil.Tx, queued TxStore) (TxStore, bool, error) {
	inputs, missing, _, err := b.fetchInputs(tx, queued, nil, false, true)
	return inputs, missing, err
}

// ConnectMinerInputs spends the fetched inputs into the queued change set in
// miner mode, returning the transaction fee.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) ConnectMinerInputs(tx *phxutil.Tx, inputs, queued TxStore) (int64, error) {
	return b.connectInputs(tx, inputs, queued, blockdb.MemPoolPos,
		b.bestChain, false, true, true)
}

// CheckTemplateBlock validates a finished candidate block against the
// current tip in dry-run mode: contextual input connection and the coinbase
// value bound run without touching the database.
//
// This function MUST be called with the chain state lock held.
func (b *BlockChain) CheckTemplateBlock(block *phxutil.Block) error {
	node := newBlockNode(&block.MsgBlock().Header, b.bestChain)
	return b.connectBlock(block, node, nil, true)
}
