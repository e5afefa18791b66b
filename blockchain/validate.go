// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math"
	"time"

	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// BaseUnitsPerCoin is the number of base currency units in one coin.
	BaseUnitsPerCoin int64 = 100000000

	// MaxMoney is the maximum transaction amount allowed in base units.
	MaxMoney = 10000000 * BaseUnitsPerCoin

	// MaxBlockSize is the maximum number of bytes a serialized block may
	// occupy.
	MaxBlockSize = 524288

	// MaxBlockSizeGen is the maximum number of bytes a locally mined block
	// may occupy.
	MaxBlockSizeGen = MaxBlockSize / 2

	// MaxBlockSigOps is the maximum number of legacy-counted signature
	// operations allowed in a block.
	MaxBlockSigOps = MaxBlockSize / 64

	// MaxOrphanTransactions is the maximum number of orphan transactions
	// kept in memory.
	MaxOrphanTransactions = MaxBlockSize / 256

	// MaxTimeOffsetSeconds is the maximum number of seconds a block time
	// is allowed to be ahead of the adjusted network time before the
	// context-free sanity check rejects it.
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// BlockLimiterTime is the minimum number of seconds a block time must
	// exceed the parent's median time past once the limiter soft fork is
	// active.
	BlockLimiterTime = 120

	// MinCoinbaseScriptLen is the minimum length a coinbase signature
	// script can be.
	MinCoinbaseScriptLen = 2

	// MaxCoinbaseScriptLen is the maximum length a coinbase signature
	// script can be.
	MaxCoinbaseScriptLen = 100

	// futureTravelWindow and futureTravelMinDelay parameterize the damped
	// average used by the future travel detector of the second soft fork.
	futureTravelWindow   = 5
	futureTravelMinDelay = 45
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks.
type BehaviorFlags uint32

const (
	// BFFastAdd may be set to indicate that several checks which are
	// unnecessary for blocks known to fit into the chain below a
	// checkpoint can be avoided.
	BFFastAdd BehaviorFlags = 1 << iota

	// BFNoPoWCheck may be set to indicate the proof of work check which
	// ensures a block hashes to a value less than the required target will
	// not be performed.
	BFNoPoWCheck

	// BFNoMerkleCheck may be set to skip the merkle root reconstruction.
	// The miner probes unfinished templates whose coinbase, and therefore
	// merkle root, still changes.
	BFNoMerkleCheck

	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0
)

// MoneyRange reports whether the amount is a valid number of base units.
func MoneyRange(value int64) bool {
	return value >= 0 && value <= MaxMoney
}

// CalcBlockSubsidy returns the subsidy amount a block at the provided height
// should have.  The base subsidy is 50 coins, 25 between the third and fourth
// hard forks (and before the first testnet fork), and the result halves every
// million blocks.
func CalcBlockSubsidy(height int32, chainParams *chaincfg.Params) int64 {
	subsidy := 50 * BaseUnitsPerCoin

	testNet := chainParams.ReduceMinDifficulty && chainParams.Net == wire.TestNet
	if (height >= chainParams.ForkThree && height < chainParams.ForkFour && chainParams.ForkThree > 0) ||
		(testNet && height < chainParams.ForkOne) {
		subsidy = 25 * BaseUnitsPerCoin
	}

	return subsidy >> uint(height/1000000)
}

// CheckTransaction performs the context free sanity checks of a transaction:
// non-empty inputs and outputs, bounded serialized size, every output value
// in money range with the running sum staying in range, no duplicate input
// outpoints, a coinbase unlocking script between 2 and 100 bytes, and no null
// previous outpoints on regular transactions.
func CheckTransaction(tx *phxutil.Tx) error {
	msgTx := tx.MsgTx()

	// A transaction must have at least one input.
	if len(msgTx.TxIn) == 0 {
		return dosError(ErrNoTxInputs, 10, "transaction has no inputs")
	}

	// A transaction must have at least one output.
	if len(msgTx.TxOut) == 0 {
		return dosError(ErrNoTxOutputs, 10, "transaction has no outputs")
	}

	// A transaction must not exceed the maximum allowed block payload when
	// serialized.
	serializedTxSize := msgTx.SerializeSize()
	if serializedTxSize > MaxBlockSize {
		return dosError(ErrTxTooBig, 100, "serialized transaction is too big - "+
			"got %d, max %d", serializedTxSize, MaxBlockSize)
	}

	// Ensure the transaction amounts are in range.  Each transaction output
	// must not be negative or more than the max allowed per transaction.
	// Also, the total of all outputs must abide by the same restrictions.
	var totalValue int64
	for _, txOut := range msgTx.TxOut {
		value := txOut.Value
		if value < 0 {
			return dosError(ErrBadTxOutValue, 100,
				"transaction output has negative value of %v", value)
		}
		if value > MaxMoney {
			return dosError(ErrBadTxOutValue, 100, "transaction output value "+
				"of %v is higher than max allowed value of %v", value, MaxMoney)
		}

		totalValue += value
		if !MoneyRange(totalValue) {
			return dosError(ErrBadTxOutValue, 100, "total value of all "+
				"transaction outputs is out of range")
		}
	}

	// Check for duplicate transaction inputs.
	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range msgTx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicateTxInputs,
				"transaction contains duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	// Coinbase script length must be between min and max length.
	if msgTx.IsCoinBase() {
		slen := len(msgTx.TxIn[0].SignatureScript)
		if slen < MinCoinbaseScriptLen || slen > MaxCoinbaseScriptLen {
			return dosError(ErrBadCoinbaseScriptLen, 100, "coinbase "+
				"transaction script length of %d is out of range (min: %d, max: %d)",
				slen, MinCoinbaseScriptLen, MaxCoinbaseScriptLen)
		}
	} else {
		// Previous transaction outputs referenced by the inputs to this
		// transaction must not be null.
		for _, txIn := range msgTx.TxIn {
			if txIn.PreviousOutPoint.IsNull() {
				return dosError(ErrBadTxInput, 10, "transaction "+
					"input refers to previous output that is null")
			}
		}
	}

	return nil
}

// CountSigOps returns the number of signature operations for all transaction
// input and output scripts in the provided transaction using the legacy
// counting rules.
func CountSigOps(tx *phxutil.Tx) int {
	msgTx := tx.MsgTx()

	// Accumulate the number of signature operations in all transaction
	// inputs.
	totalSigOps := 0
	for _, txIn := range msgTx.TxIn {
		totalSigOps += txscript.GetSigOpCount(txIn.SignatureScript)
	}

	// Accumulate the number of signature operations in all transaction
	// outputs.
	for _, txOut := range msgTx.TxOut {
		totalSigOps += txscript.GetSigOpCount(txOut.PkScript)
	}

	return totalSigOps
}

// CountP2SHSigOps returns the number of signature operations for all input
// transactions which are of the pay-to-script-hash type.  This uses the
// precise counting of the redemption script pushed by the unlocking script,
// so the previous outputs must be available in the passed store.
func CountP2SHSigOps(tx *phxutil.Tx, isCoinBaseTx bool, txStore TxStore) (int, error) {
	// Coinbase transactions have no interesting inputs.
	if isCoinBaseTx {
		return 0, nil
	}

	// Accumulate the number of signature operations in all transaction
	// inputs.
	msgTx := tx.MsgTx()
	totalSigOps := 0
	for _, txIn := range msgTx.TxIn {
		// Ensure the referenced input transaction is available.
		prevOut := txIn.PreviousOutPoint
		txData, exists := txStore[prevOut.Hash]
		if !exists || txData.Tx == nil {
			return 0, ruleError(ErrMissingTx, fmt.Sprintf(
				"unable to find input transaction %v referenced from "+
					"transaction %v", prevOut.Hash, tx.Hash()))
		}
		prevMsgTx := txData.Tx.MsgTx()

		// Ensure the output index in the referenced transaction is
		// available.
		if prevOut.Index >= uint32(len(prevMsgTx.TxOut)) {
			return 0, ruleError(ErrBadTxInput, fmt.Sprintf(
				"output index %d is out of range of transaction %v",
				prevOut.Index, prevOut.Hash))
		}

		pkScript := prevMsgTx.TxOut[prevOut.Index].PkScript
		if !txscript.IsPayToScriptHash(pkScript) {
			continue
		}

		numSigOps := txscript.GetPreciseSigOpCount(txIn.SignatureScript,
			pkScript, true)

		// We could potentially overflow the accumulator so check for
		// overflow.
		lastSigOps := totalSigOps
		totalSigOps += numSigOps
		if totalSigOps < lastSigOps {
			return 0, ruleError(ErrTooManySigOps, fmt.Sprintf(
				"the public key script from output %v contains too many "+
					"signature operations - overflow", prevOut))
		}
	}

	return totalSigOps, nil
}

// checkBlockSanity performs the context free checks of a block: non-empty
// transaction sequence within the size limit, the proof-of-work digest within
// the decoded target, a timestamp not too far in the future, the first and
// only the first transaction a coinbase, every transaction passing
// CheckTransaction, no duplicate transaction ids, a bounded legacy sigop
// count, and a merkle root matching the reconstruction.
func checkBlockSanity(block *phxutil.Block, chainParams *chaincfg.Params,
	hasher pow.Hasher, timeSource MedianTimeSource, flags BehaviorFlags) error {

	msgBlock := block.MsgBlock()
	header := &msgBlock.Header

	// A block must have at least one transaction.
	numTx := len(msgBlock.Transactions)
	if numTx == 0 {
		return dosError(ErrNoTransactions, 100,
			"block does not contain any transactions")
	}

	// A block must not exceed the maximum allowed block payload when
	// serialized.
	serializedSize := msgBlock.SerializeSize()
	if numTx > MaxBlockSize || serializedSize > MaxBlockSize {
		return dosError(ErrBlockTooBig, 100, "serialized block is too big - "+
			"got %d, max %d", serializedSize, MaxBlockSize)
	}

	// Ensure the proof of work digest meets the claimed target.
	if flags&BFNoPoWCheck != BFNoPoWCheck {
		powHash := header.PowHash(hasher)
		if err := checkProofOfWork((*[32]byte)(&powHash), header.Bits,
			chainParams.PowLimit); err != nil {
			return err
		}
	}

	// A block timestamp must not be more than the allowed window ahead of
	// the adjusted network time.
	maxTimestamp := timeSource.AdjustedTime().Add(time.Second * MaxTimeOffsetSeconds)
	if header.Timestamp.After(maxTimestamp) {
		return ruleError(ErrTimeTooNew, fmt.Sprintf(
			"block timestamp of %v is too far in the future", header.Timestamp))
	}

	// The first transaction in a block must be a coinbase.
	transactions := block.Transactions()
	if !transactions[0].MsgTx().IsCoinBase() {
		return dosError(ErrFirstTxNotCoinbase, 100,
			"first transaction in block is not the coinbase")
	}

	// A block must not have more than one coinbase.
	for i, tx := range transactions[1:] {
		if tx.MsgTx().IsCoinBase() {
			return dosError(ErrMultipleCoinbases, 100,
				"block contains second coinbase at index %d", i+1)
		}
	}

	// Do some preliminary checks on each transaction to ensure they are
	// sane before continuing.
	for _, tx := range transactions {
		if err := CheckTransaction(tx); err != nil {
			return err
		}
	}

	// Check for duplicate transactions.  The transaction hashes computed
	// here are cached and reused when the merkle tree is built below.
	existingTxHashes := make(map[chainhash.Hash]struct{})
	for _, tx := range transactions {
		hash := tx.Hash()
		if _, exists := existingTxHashes[*hash]; exists {
			return dosError(ErrDuplicateTx, 100,
				"block contains duplicate transaction %v", hash)
		}
		existingTxHashes[*hash] = struct{}{}
	}

	// The number of signature operations must be less than the maximum
	// allowed per block.
	totalSigOps := 0
	for _, tx := range transactions {
		// We could potentially overflow the accumulator so check for
		// overflow.
		lastSigOps := totalSigOps
		totalSigOps += CountSigOps(tx)
		if totalSigOps < lastSigOps || totalSigOps > MaxBlockSigOps {
			return dosError(ErrTooManySigOps, 100,
				"block contains too many signature operations - got %v, max %v",
				totalSigOps, MaxBlockSigOps)
		}
	}

	// Build merkle tree and ensure the calculated merkle root matches the
	// entry in the block header.
	if flags&BFNoMerkleCheck != BFNoMerkleCheck {
		calculatedMerkleRoot := CalcMerkleRoot(transactions)
		if !header.MerkleRoot.IsEqual(&calculatedMerkleRoot) {
			return dosError(ErrBadMerkleRoot, 100, "block merkle root is "+
				"invalid - block header indicates %v, but calculated value is %v",
				header.MerkleRoot, calculatedMerkleRoot)
		}
	}

	return nil
}

// CheckBlockSanity performs the context free block checks using the proof of
// work profile in force at the next height of the current best chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) CheckBlockSanity(block *phxutil.Block, flags BehaviorFlags) error {
	b.chainLock.RLock()
	hasher, err := b.hasherForHeight(b.bestHeight() + 1)
	b.chainLock.RUnlock()
	if err != nil {
		return err
	}
	return checkBlockSanity(block, b.chainParams, hasher, b.timeSource, flags)
}

// isBIP30Exempt reports whether the block is one of the two grandfathered
// blocks that predate the overwrite rule.
func isBIP30Exempt(height int32, hash *chainhash.Hash) bool {
	h91842, _ := chainhash.NewHashFromStr(
		"00000000000a4d0a398161ffc163c503763b1f4360639393e0e4c8e300e0caec")
	h91880, _ := chainhash.NewHashFromStr(
		"00000000000743f190a18c5577a3c2d2a1f610ae9601ac046a38084ccb7cd721")
	return (height == 91842 && hash.IsEqual(h91842)) ||
		(height == 91880 && hash.IsEqual(h91880))
}

// overflowSafeAdd reports whether a+b overflows int64 range.
func overflowSafeAdd(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}
