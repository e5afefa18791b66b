// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies a kind of rule violation.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the required target difficulty.
	ErrHighHash

	// ErrBadDiffBits indicates the block does not carry the difficulty
	// required by the retarget schedule.
	ErrBadDiffBits

	// ErrBadBlockVersion indicates the block header version is not
	// acceptable at its height.
	ErrBadBlockVersion

	// ErrTimeTooOld indicates the time is either before the median time of
	// the last several blocks per the chain consensus rules, rejected by
	// the block limiter, or too far behind the parent block.
	ErrTimeTooOld

	// ErrTimeTooNew indicates the time is too far in the future as compared
	// to the current time.
	ErrTimeTooNew

	// ErrFutureTravel indicates the block was rejected by the future
	// travel detector guarding the block limiter.
	ErrFutureTravel

	// ErrBadCoinbaseHeight indicates the serialized block height in the
	// coinbase unlocking script does not match the expected height.
	ErrBadCoinbaseHeight

	// ErrNoTransactions indicates the block does not have at least one
	// transaction.  A valid block must have at least the coinbase
	// transaction.
	ErrNoTransactions

	// ErrTooManyTransactions indicates the block has more transactions than
	// are allowed.
	ErrTooManyTransactions

	// ErrNoTxInputs indicates a transaction does not have any inputs.  A
	// valid transaction must have at least one input.
	ErrNoTxInputs

	// ErrNoTxOutputs indicates a transaction does not have any outputs.  A
	// valid transaction must have at least one output.
	ErrNoTxOutputs

	// ErrTxTooBig indicates a transaction exceeds the maximum allowed size
	// when serialized.
	ErrTxTooBig

	// ErrBadTxOutValue indicates an output value for a transaction is
	// invalid in some way such as being out of range.
	ErrBadTxOutValue

	// ErrDuplicateTxInputs indicates a transaction references the same
	// input more than once.
	ErrDuplicateTxInputs

	// ErrBadTxInput indicates a transaction input is invalid in some way
	// such as referencing a previous transaction outpoint which is out of
	// range or not referencing one at all.
	ErrBadTxInput

	// ErrBadCoinbaseScriptLen indicates the length of the signature script
	// for a coinbase transaction is not within the valid range.
	ErrBadCoinbaseScriptLen

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases

	// ErrFirstTxNotCoinbase indicates the first transaction in a block is
	// not a coinbase transaction.
	ErrFirstTxNotCoinbase

	// ErrDuplicateTx indicates a block contains an identical transaction
	// more than once.
	ErrDuplicateTx

	// ErrOverwriteTx indicates a block contains a transaction that has
	// the same hash as a previous transaction which has not been fully
	// spent.
	ErrOverwriteTx

	// ErrTooManySigOps indicates the total number of signature operations
	// for a transaction or block exceed the maximum allowed limits.
	ErrTooManySigOps

	// ErrBadMerkleRoot indicates the calculated merkle root does not match
	// the expected value.
	ErrBadMerkleRoot

	// ErrMissingTx indicates a transaction referenced by an input is
	// missing.
	ErrMissingTx

	// ErrImmatureSpend indicates a transaction is attempting to spend a
	// coinbase that has not yet reached the required maturity.
	ErrImmatureSpend

	// ErrDoubleSpend indicates a transaction is attempting to spend coins
	// that have already been spent.
	ErrDoubleSpend

	// ErrScriptValidation indicates the result of executing a transaction
	// input script evaluated to false.
	ErrScriptValidation

	// ErrBadFees indicates the total fees for a block are invalid due to
	// exceeding the maximum possible value or being negative.
	ErrBadFees

	// ErrBadCoinbaseValue indicates the amount of a coinbase value
	// exceeds the subsidy plus the sum of all fees.
	ErrBadCoinbaseValue

	// ErrUnfinalizedTx indicates a transaction has not been finalized.
	ErrUnfinalizedTx

	// ErrCheckpointMismatch indicates a block conflicts with a hard-coded
	// checkpoint or with the synchronized checkpoint.
	ErrCheckpointMismatch

	// ErrCheckpointTimeTooOld indicates a block has a timestamp before the
	// most recent hard-coded checkpoint.
	ErrCheckpointTimeTooOld

	// ErrPrevBlockNotBest indicates a block could not be accepted because
	// its previous block is not in the block index.
	ErrPrevBlockNotBest

	// ErrInvalidAncestorBlock indicates the chain being connected contains
	// a block that previously failed validation.
	ErrInvalidAncestorBlock
)

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.  The caller can use type assertions to determine if a
// failure was specifically due to a rule violation, and the DoSScore field
// carries the misbehavior delta applied against a peer that sourced the
// offending object.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	DoSScore    uint16    // Misbehavior score the source peer earns
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// dosError creates a RuleError carrying a denial-of-service score.
func dosError(c ErrorCode, score uint16, format string, args ...interface{}) RuleError {
	return RuleError{
		ErrorCode:   c,
		Description: fmt.Sprintf(format, args...),
		DoSScore:    score,
	}
}

// ErrToDoS extracts the denial-of-service score of an error.  Errors that are
// not rule errors score zero.
func ErrToDoS(err error) uint16 {
	var rerr RuleError
	if errors.As(err, &rerr) {
		return rerr.DoSScore
	}
	return 0
}

// IsRuleError reports whether err is a consensus rule violation as opposed to
// an unexpected failure such as disk I/O.
func IsRuleError(err error) bool {
	var rerr RuleError
	return errors.As(err, &rerr)
}

// IsErrorCode reports whether err is a RuleError with the given code.
func IsErrorCode(err error, c ErrorCode) bool {
	var rerr RuleError
	return errors.As(err, &rerr) && rerr.ErrorCode == c
}
