// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// MinTxFee is the base fee in base units per thousand bytes a
	// transaction must pay to be mined or sent.
	MinTxFee int64 = 10000000

	// MinRelayTxFee is the base fee in base units per thousand bytes
	// below which a relayed transaction is considered free.
	MinRelayTxFee int64 = 5000000

	// TxDust is the output value threshold under which each output adds a
	// base fee to the minimum fee of its transaction.
	TxDust int64 = 1000000

	// maxStandardTxVersion is the highest transaction version considered
	// standard.
	maxStandardTxVersion = 1

	// maxStandardSigScriptSize is the biggest signature script a standard
	// transaction input may carry.  The largest standard redemption is a
	// 3-of-3 CHECKMULTISIG pay-to-script-hash with three ~80-byte
	// signatures and three ~65-byte public keys.
	maxStandardSigScriptSize = 500
)

// FeeMode selects the base fee and free-transaction policy of GetMinFee.
type FeeMode int

const (
	// FeeModeBlock is used when judging a transaction for inclusion in a
	// mined block.
	FeeModeBlock FeeMode = iota

	// FeeModeRelay is used when judging a relayed transaction.
	FeeModeRelay

	// FeeModeSend is used when judging a locally created transaction.
	FeeModeSend
)

// GetMinFee computes the minimum fee a transaction of the given serialized
// size must pay: one base fee per started thousand bytes, one extra base fee
// per output below the dust threshold, free when small enough and allowed,
// and scaled up sharply as the would-be block approaches the generation
// limit.
func GetMinFee(tx *wire.MsgTx, nBytes int, allowFree bool, mode FeeMode) int64 {
	// Base fee is either MinTxFee or MinRelayTxFee.
	baseFee := MinTxFee
	if mode == FeeModeRelay {
		baseFee = MinRelayTxFee
	}

	newBlockSize := 1000 + nBytes
	if mode == FeeModeSend {
		newBlockSize = nBytes
	}
	minFee := (1 + int64(nBytes)/1000) * baseFee

	if allowFree {
		if mode == FeeModeSend {
			// Limit size of free high priority transactions.
			if nBytes < 2000 {
				minFee = 0
			}
		} else {
			// Limit block space for free transactions.
			if newBlockSize < 11000 {
				minFee = 0
			}
		}
	}

	// Dust spam filter: require a base fee for any micro output.
	for _, txOut := range tx.TxOut {
		if txOut.Value < TxDust {
			minFee += baseFee
		}
	}

	// Raise the price as the block approaches full.
	if mode != FeeModeSend && newBlockSize >= blockchain.MaxBlockSizeGen/2 {
		if newBlockSize >= blockchain.MaxBlockSizeGen {
			return blockchain.MaxMoney
		}
		minFee *= int64(blockchain.MaxBlockSizeGen / (blockchain.MaxBlockSizeGen - newBlockSize))
		if !blockchain.MoneyRange(minFee) {
			minFee = blockchain.MaxMoney
		}
	}

	return minFee
}

// checkTransactionStandard performs the standardness policy checks applied
// on the main network: a known version, push-only unlocking scripts of
// bounded size, and recognized locking script templates with non-zero
// values.
func checkTransactionStandard(tx *phxutil.Tx) error {
	msgTx := tx.MsgTx()
	if msgTx.Version > maxStandardTxVersion {
		return fmt.Errorf("transaction version %d is not standard", msgTx.Version)
	}

	for i, txIn := range msgTx.TxIn {
		if len(txIn.SignatureScript) > maxStandardSigScriptSize {
			return fmt.Errorf("input %d signature script size %d is too large",
				i, len(txIn.SignatureScript))
		}
		if !txscript.IsPushOnlyScript(txIn.SignatureScript) {
			return fmt.Errorf("input %d signature script is not push only", i)
		}
	}

	for i, txOut := range msgTx.TxOut {
		if txscript.GetScriptClass(txOut.PkScript) == txscript.NonStandardTy {
			return fmt.Errorf("output %d has a non-standard script", i)
		}
		if txOut.Value == 0 {
			return fmt.Errorf("output %d pays zero value", i)
		}
	}

	return nil
}

// checkInputsStandard enforces the standardness of the scripts being
// redeemed: every previous locking script must be a recognized template and
// pay-to-script-hash redemptions must not nest further script hashes.  The
// argument count of the unlocking script is bounded by the template's
// expectation, which keeps redemption cost predictable.
func checkInputsStandard(tx *phxutil.Tx, txStore blockchain.TxStore) error {
	msgTx := tx.MsgTx()
	for i, txIn := range msgTx.TxIn {
		prevOut := txIn.PreviousOutPoint
		txData, ok := txStore[prevOut.Hash]
		if !ok || txData.Tx == nil {
			return fmt.Errorf("input %d previous transaction unavailable", i)
		}
		prevScript := txData.Tx.MsgTx().TxOut[prevOut.Index].PkScript

		class := txscript.GetScriptClass(prevScript)
		argsExpected := txscript.ScriptSigArgsExpected(prevScript)
		if class == txscript.NonStandardTy || argsExpected < 0 {
			return fmt.Errorf("input %d redeems a non-standard script", i)
		}

		pushes := txscript.PushedData(txIn.SignatureScript)
		if class == txscript.ScriptHashTy {
			if len(pushes) == 0 {
				return fmt.Errorf("input %d redeems a script hash with no data", i)
			}
			redeemScript := pushes[len(pushes)-1]
			if txscript.GetScriptClass(redeemScript) == txscript.ScriptHashTy {
				return fmt.Errorf("input %d nests pay-to-script-hash", i)
			}
			redeemArgs := txscript.ScriptSigArgsExpected(redeemScript)
			if redeemArgs < 0 {
				return fmt.Errorf("input %d redeem script is non-standard", i)
			}
			argsExpected += redeemArgs
		}

		if len(pushes) != argsExpected {
			return fmt.Errorf("input %d pushes %d items, expected %d",
				i, len(pushes), argsExpected)
		}
	}
	return nil
}
