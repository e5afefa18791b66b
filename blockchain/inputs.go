// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// TxData couples a previous transaction with its index entry while a
// transaction referencing it is being connected.
type TxData struct {
	Tx    *phxutil.Tx
	Entry *blockdb.TxIndexEntry
}

// TxStore is a map of previous transaction data keyed by transaction id.  It
// doubles as the queued change set while a block connects: entries mutated by
// spending are written back to it and only reach the persistent index when
// the surrounding batch commits.
type TxStore map[chainhash.Hash]*TxData

// PoolTxSource supplies transactions that live in the memory pool.  It is
// implemented by the mempool and consulted when an input's previous
// transaction has no index entry on disk.
type PoolTxSource interface {
	// FetchPoolTx returns the pool transaction with the given hash, or
	// nil when the pool does not contain it.
	FetchPoolTx(hash *chainhash.Hash) *phxutil.Tx
}

// PoolTxLookup resolves a pool transaction by hash.  The mempool passes its
// own lock-free lookup when it initiates input fetching since it already
// holds the pool lock; every other caller leaves it nil and the wired
// PoolTxSource is consulted instead.
type PoolTxLookup func(hash *chainhash.Hash) *phxutil.Tx

// fetchInputs resolves the previous transaction and index entry for every
// non-coinbase input of tx.  Resolution order is the caller-supplied queued
// change set, then the persistent tx-index, then the memory pool.  The
// missing return is set when a previous transaction cannot be found at all
// (the transaction may be an orphan); invalid is set when a previous
// transaction exists but an output index is out of range.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) fetchInputs(tx *phxutil.Tx, queued TxStore,
	poolLookup PoolTxLookup, forBlock, forMiner bool) (TxStore, bool, bool, error) {

	inputs := make(TxStore)
	if tx.MsgTx().IsCoinBase() {
		return inputs, false, false, nil
	}

	for _, txIn := range tx.MsgTx().TxIn {
		prevOut := &txIn.PreviousOutPoint
		if _, ok := inputs[prevOut.Hash]; ok {
			continue // Got it already.
		}

		txData := &TxData{}
		inputs[prevOut.Hash] = txData

		// Take the index entry from the in-flight change set first so a
		// block spending the same previous transaction twice observes
		// its own earlier spends.
		found := true
		if queuedData, ok := queued[prevOut.Hash]; ok && (forBlock || forMiner) {
			txData.Entry = queuedData.Entry.Clone()
			if queuedData.Tx != nil {
				txData.Tx = queuedData.Tx
			}
		} else {
			entry, ok, err := b.store.ReadTxIndex(&prevOut.Hash)
			if err != nil {
				return nil, false, false, err
			}
			found = ok
			if ok {
				txData.Entry = entry
			}
		}
		if !found && (forBlock || forMiner) {
			if forMiner {
				return nil, true, false, ruleError(ErrMissingTx,
					"previous transaction index entry not found")
			}
			return nil, true, false, ruleError(ErrMissingTx, fmt.Sprintf(
				"%v prev tx %v index entry not found", tx.Hash(), prevOut.Hash))
		}

		// Resolve the transaction itself: from the pool when the entry
		// is absent or marks a pool position, from disk otherwise.
		if txData.Tx == nil {
			if !found || txData.Entry.Pos.IsMemPool() {
				var poolTx *phxutil.Tx
				if poolLookup != nil {
					poolTx = poolLookup(&prevOut.Hash)
				} else if b.txSource != nil {
					poolTx = b.txSource.FetchPoolTx(&prevOut.Hash)
				}
				if poolTx == nil {
					return nil, true, false, ruleError(ErrMissingTx, fmt.Sprintf(
						"%v prev tx %v not found in pool", tx.Hash(), prevOut.Hash))
				}
				txData.Tx = poolTx
				if !found {
					txData.Entry = blockdb.NewTxIndexEntry(
						blockdb.MemPoolPos, len(poolTx.MsgTx().TxOut))
				}
			} else {
				msgTx, err := b.store.ReadTx(txData.Entry.Pos)
				if err != nil {
					return nil, false, false, err
				}
				txData.Tx = phxutil.NewTx(msgTx)
			}
		}
	}

	// Make sure all prevout indexes are valid.
	for _, txIn := range tx.MsgTx().TxIn {
		prevOut := &txIn.PreviousOutPoint
		txData := inputs[prevOut.Hash]
		if prevOut.Index >= uint32(len(txData.Tx.MsgTx().TxOut)) ||
			prevOut.Index >= uint32(len(txData.Entry.Spent)) {

			return nil, false, true, dosError(ErrBadTxInput, 100,
				"%v prevout index %d out of range for prev tx %v",
				tx.Hash(), prevOut.Index, prevOut.Hash)
		}
	}

	return inputs, false, false, nil
}

// connectInputs validates the inputs of tx against the fetched previous
// transactions and marks the referenced outputs spent at posThisTx.  The
// work is split into two passes: the inexpensive value and maturity checks
// run first for every input, and only when all of them pass are the
// expensive signature verifications performed.
//
// Signature verification is skipped entirely when connecting blocks below
// the hard-coded checkpoint estimate; the merkle roots pin those blocks.  On
// a strict pay-to-script-hash failure the script is retried without the
// strict flag: scripts that pass the retry fail without a misbehavior score
// since old clients relay them in good faith.
//
// The fee for the transaction is returned on success.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectInputs(tx *phxutil.Tx, inputs, queued TxStore,
	posThisTx blockdb.DiskTxPos, spendNode *blockNode,
	forBlock, forMiner, strictP2SH bool) (int64, error) {

	msgTx := tx.MsgTx()
	if msgTx.IsCoinBase() {
		return 0, nil
	}

	// Pass 1: maturity and value range.
	var totalValueIn int64
	for _, txIn := range msgTx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		txData, exists := inputs[prevOut.Hash]
		if !exists {
			return 0, ruleError(ErrMissingTx, fmt.Sprintf(
				"input %v missing from fetched set", prevOut))
		}
		prevTx := txData.Tx.MsgTx()
		entry := txData.Entry

		if prevOut.Index >= uint32(len(prevTx.TxOut)) ||
			prevOut.Index >= uint32(len(entry.Spent)) {
			return 0, dosError(ErrBadTxInput, 100,
				"%v prevout index %d out of range", tx.Hash(), prevOut.Index)
		}

		// If prev is coinbase, check that it's matured by walking the
		// spending chain backwards and comparing disk positions.
		if prevTx.IsCoinBase() {
			maturity := b.chainParams.CoinbaseMaturity()
			for pindex := spendNode; pindex != nil &&
				spendNode.height-pindex.height < maturity; pindex = pindex.parent {

				if pindex.blockPos == entry.Pos.BlockPos &&
					pindex.file == entry.Pos.File {

					return 0, ruleError(ErrImmatureSpend, fmt.Sprintf(
						"tried to spend coinbase at depth %d",
						spendNode.height-pindex.height))
				}
			}
		}

		// Check for negative or overflow input values.
		value := prevTx.TxOut[prevOut.Index].Value
		newTotal, ok := overflowSafeAdd(totalValueIn, value)
		if !ok || !MoneyRange(value) || !MoneyRange(newTotal) {
			return 0, dosError(ErrBadTxOutValue, 100, "txin values out of range")
		}
		totalValueIn = newTotal
	}

	// Pass 2: double-spend detection and signature verification.  Only if
	// all inputs pass the cheap checks do we pay for ECDSA.
	skipSigs := forBlock && b.bestHeight() < b.checkpointBlocksEstimate()
	for i, txIn := range msgTx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		txData := inputs[prevOut.Hash]
		entry := txData.Entry

		// Check for conflicts (double-spend).  This does not raise a
		// misbehavior score on purpose; scoring it would make it easier
		// for an attacker to attempt to split the network.
		if !entry.Spent[prevOut.Index].IsNull() {
			return 0, ruleError(ErrDoubleSpend, fmt.Sprintf(
				"%v prev tx already spent at %v", tx.Hash(),
				entry.Spent[prevOut.Index]))
		}

		if !skipSigs {
			pkScript := txData.Tx.MsgTx().TxOut[prevOut.Index].PkScript
			err := b.scriptVerifier.Verify(pkScript, msgTx, i, strictP2SH, 0)
			if err != nil {
				if strictP2SH {
					retryErr := b.scriptVerifier.Verify(pkScript,
						msgTx, i, false, 0)
					if retryErr == nil {
						// Only during the transition phase for P2SH:
						// no misbehavior score for potentially old
						// clients relaying bad P2SH transactions.
						return 0, ruleError(ErrScriptValidation, fmt.Sprintf(
							"%v strict P2SH verification failed", tx.Hash()))
					}
				}
				return 0, dosError(ErrScriptValidation, 100,
					"%v signature verification failed: %v", tx.Hash(), err)
			}
		}

		// Mark the outpoint spent and queue the write-back.
		entry.Spent[prevOut.Index] = posThisTx
		if forBlock || forMiner {
			queued[prevOut.Hash] = txData
		}
	}

	// Total output value must not exceed total input value, and the fee
	// must stay in money range.
	var totalValueOut int64
	for _, txOut := range msgTx.TxOut {
		totalValueOut += txOut.Value
	}
	if totalValueIn < totalValueOut {
		return 0, dosError(ErrBadFees, 100,
			"%v value in %v < value out %v", tx.Hash(), totalValueIn, totalValueOut)
	}
	fee := totalValueIn - totalValueOut
	if !MoneyRange(fee) {
		return 0, dosError(ErrBadFees, 100, "fee out of range")
	}

	return fee, nil
}
