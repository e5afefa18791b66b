// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"

	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// Verifier is the contract of the script interpreter.  Given the locking
// script of the output being spent, the spending transaction and the input
// index, it reports whether the input's unlocking script satisfies the lock.
// The strictP2SH flag enables the pay-to-script-hash evaluation rules; the
// hashType carries the signature hash flags the interpreter should assume for
// bare verification calls (zero for consensus checks).
//
// Implementations must be pure: no side effects, safe for concurrent use.
type Verifier interface {
	Verify(pkScript []byte, tx *wire.MsgTx, idx int, strictP2SH bool, hashType int) error
}

// ScriptError describes a failure while parsing or verifying a script.
type ScriptError struct {
	Description string
}

// Error satisfies the error interface.
func (e ScriptError) Error() string {
	return e.Description
}

func scriptError(format string, args ...interface{}) ScriptError {
	return ScriptError{Description: fmt.Sprintf(format, args...)}
}

// NopVerifier accepts every script.  It stands in for the real interpreter in
// tests and in configurations where signature checking is delegated to an
// external component.
type NopVerifier struct{}

// Verify implements the Verifier interface and always succeeds.
func (NopVerifier) Verify(pkScript []byte, tx *wire.MsgTx, idx int, strictP2SH bool, hashType int) error {
	return nil
}

// RejectVerifier rejects every script.  Tests use it to drive the failure
// paths of input connection.
type RejectVerifier struct{}

// Verify implements the Verifier interface and always fails.
func (RejectVerifier) Verify(pkScript []byte, tx *wire.MsgTx, idx int, strictP2SH bool, hashType int) error {
	return scriptError("script rejected")
}
