// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// connectBlock performs the contextual validation of the block and queues the
// resulting tx-index mutations into the batch.  When justCheck is set the
// validation runs against an ephemeral change set and nothing is queued; the
// miner uses this to finalize fees before sealing a template.
//
// The overwrite rule (no reuse of an unspent transaction id) is enforced for
// every block except the two grandfathered (height, id) pairs.  Strict
// pay-to-script-hash evaluation activates by block time against the fixed
// activation timestamp.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectBlock(block *phxutil.Block, node *blockNode,
	batch *blockdb.Batch, justCheck bool) error {

	// Check it again in case a previous version let a bad block in.
	sanityFlags := BFNone
	if justCheck {
		// The template the miner probes carries no valid proof of work
		// or final merkle root yet.
		sanityFlags |= BFNoPoWCheck | BFNoMerkleCheck
	}
	hasher, err := b.hasherForHeight(node.height)
	if err != nil {
		return err
	}
	err = checkBlockSanity(block, b.chainParams, hasher, b.timeSource, sanityFlags)
	if err != nil {
		return err
	}

	enforceOverwriteRule := justCheck || !isBIP30Exempt(node.height, block.Hash())
	strictP2SH := node.timestamp >= b.chainParams.BIP16SwitchTime

	// The offset of the first transaction inside the serialized block:
	// the 80-byte header plus the transaction count.
	msgBlock := block.MsgBlock()
	txOffset := uint32(80 + wire.VarIntSerializeSize(uint64(len(msgBlock.Transactions))))

	queued := make(TxStore)
	var totalFees int64
	totalSigOps := 0
	for _, tx := range block.Transactions() {
		txHash := tx.Hash()

		// Do not allow blocks that contain transactions which
		// 'overwrite' older transactions unless those are fully spent.
		// Allowing such overwrites would let coinbases and transactions
		// depending upon them be duplicated to remove the ability to
		// spend the first instance.
		if enforceOverwriteRule {
			oldEntry, exists, err := b.store.ReadTxIndex(txHash)
			if err != nil {
				return err
			}
			if exists {
				for i := range oldEntry.Spent {
					if oldEntry.Spent[i].IsNull() {
						return ruleError(ErrOverwriteTx, fmt.Sprintf(
							"tried to overwrite transaction %v which is "+
								"not fully spent", txHash))
					}
				}
			}
		}

		totalSigOps += CountSigOps(tx)
		if totalSigOps > MaxBlockSigOps {
			return dosError(ErrTooManySigOps, 100, "too many sigops")
		}

		posThisTx := blockdb.DiskTxPos{
			File:     node.file,
			BlockPos: node.blockPos,
			TxPos:    txOffset,
		}
		if justCheck {
			posThisTx = blockdb.MemPoolPos
		} else {
			txOffset += uint32(tx.MsgTx().SerializeSize())
		}

		if !tx.MsgTx().IsCoinBase() {
			inputs, _, _, err := b.fetchInputs(tx, queued, nil, true, false)
			if err != nil {
				return err
			}

			if strictP2SH {
				// Add in sigops done by pay-to-script-hash inputs to
				// prevent a rogue miner from creating an
				// incredibly-expensive-to-validate block.
				p2shSigOps, err := CountP2SHSigOps(tx, false, inputs)
				if err != nil {
					return err
				}
				totalSigOps += p2shSigOps
				if totalSigOps > MaxBlockSigOps {
					return dosError(ErrTooManySigOps, 100, "too many sigops")
				}
			}

			fee, err := b.connectInputs(tx, inputs, queued, posThisTx,
				node, true, false, strictP2SH)
			if err != nil {
				return err
			}
			totalFees += fee
			if !MoneyRange(totalFees) {
				return dosError(ErrBadFees, 100, "total fees out of range")
			}
		}

		queued[*txHash] = &TxData{
			Tx:    tx,
			Entry: blockdb.NewTxIndexEntry(posThisTx, len(tx.MsgTx().TxOut)),
		}
	}

	// The coinbase may not pay more than the subsidy plus the collected
	// fees.
	coinbaseValue := int64(0)
	for _, txOut := range msgBlock.Transactions[0].TxOut {
		coinbaseValue += txOut.Value
	}
	expected := CalcBlockSubsidy(node.height, b.chainParams) + totalFees
	if coinbaseValue > expected {
		return ruleError(ErrBadCoinbaseValue, fmt.Sprintf(
			"coinbase pays too much (actual=%d vs limit=%d)",
			coinbaseValue, expected))
	}

	if justCheck {
		return nil
	}

	// Queue the tx-index changes into the durable batch.
	for hash, txData := range queued {
		h := hash
		batch.UpdateTxIndex(&h, txData.Entry)
	}

	return nil
}

// disconnectBlock reverses the effect of connectBlock: in reverse transaction
// order every input's spent mark is cleared in the tx-index, then the index
// entries of the block's own transactions are erased.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) disconnectBlock(block *phxutil.Block, node *blockNode,
	batch *blockdb.Batch) error {

	// Entries mutated while unwinding are cached so several inputs
	// spending outputs of the same previous transaction observe one
	// another.
	touched := make(map[chainhash.Hash]*blockdb.TxIndexEntry)

	transactions := block.Transactions()
	for i := len(transactions) - 1; i >= 0; i-- {
		tx := transactions[i]
		msgTx := tx.MsgTx()

		if !msgTx.IsCoinBase() {
			for _, txIn := range msgTx.TxIn {
				prevOut := &txIn.PreviousOutPoint

				entry, ok := touched[prevOut.Hash]
				if !ok {
					stored, exists, err := b.store.ReadTxIndex(&prevOut.Hash)
					if err != nil {
						return err
					}
					if !exists {
						return blockdbCorrupt(fmt.Sprintf(
							"disconnect: missing tx index entry for %v",
							prevOut.Hash))
					}
					entry = stored
					touched[prevOut.Hash] = entry
				}

				if prevOut.Index >= uint32(len(entry.Spent)) {
					return blockdbCorrupt(fmt.Sprintf(
						"disconnect: spent vector too short for %v", prevOut.Hash))
				}
				entry.Spent[prevOut.Index].SetNull()
			}
		}
	}

	for hash, entry := range touched {
		h := hash
		batch.UpdateTxIndex(&h, entry)
	}

	// Erase this block's own transactions from the index.
	for _, tx := range transactions {
		batch.EraseTxIndex(tx.Hash())
	}

	return nil
}

// blockdbCorrupt wraps a description into the store's corruption error type
// so callers treat it as fatal.
func blockdbCorrupt(desc string) error {
	return blockdb.CorruptError{Description: desc}
}
