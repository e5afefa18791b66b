// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"testing"
)

// p2pkhScript builds a standard pay-to-pubkey-hash locking script around a
// 20-byte hash.
func p2pkhScript() []byte {
	script := []byte{OP_DUP, OP_HASH160, OP_DATA_20}
	script = append(script, make([]byte, 20)...)
	return append(script, OP_EQUALVERIFY, OP_CHECKSIG)
}

// p2shScript builds a standard pay-to-script-hash locking script.
func p2shScript() []byte {
	script := []byte{OP_HASH160, OP_DATA_20}
	script = append(script, make([]byte, 20)...)
	return append(script, OP_EQUAL)
}

// multisigScript builds a 2-of-3 multisig locking script with dummy
// compressed keys.
func multisigScript() []byte {
	script := []byte{OP_1 + 1} // OP_2
	for i := 0; i < 3; i++ {
		key := make([]byte, 33)
		key[0] = 0x02
		key[32] = byte(i)
		script = append(script, byte(len(key)))
		script = append(script, key...)
	}
	return append(script, OP_1+2, OP_CHECKMULTISIG) // OP_3 CHECKMULTISIG
}

// TestGetSigOpCount checks the legacy counting rules.
func TestGetSigOpCount(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		want   int
	}{
		{"empty", nil, 0},
		{"p2pkh", p2pkhScript(), 1},
		{"p2sh lock", p2shScript(), 0},
		{"bare checksig", []byte{OP_CHECKSIG}, 1},
		{"checksigverify", []byte{OP_CHECKSIGVERIFY}, 1},
		{"bare multisig counts max", []byte{OP_CHECKMULTISIG}, MaxPubKeysPerMultiSig},
		{"multisig legacy counts max", multisigScript(), MaxPubKeysPerMultiSig},
		{"truncated push", []byte{OP_CHECKSIG, 0x4b}, 1},
	}

	for _, test := range tests {
		if got := GetSigOpCount(test.script); got != test.want {
			t.Errorf("%s: got %d want %d", test.name, got, test.want)
		}
	}
}

// TestGetPreciseSigOpCount checks the pay-to-script-hash counting rules.
func TestGetPreciseSigOpCount(t *testing.T) {
	// The precise count of a multisig redeem script follows the small
	// integer preceding OP_CHECKMULTISIG, which is the key count.
	redeem := multisigScript()
	var sigScript bytes.Buffer
	sigScript.WriteByte(OP_0)
	sigScript.WriteByte(OP_PUSHDATA1)
	sigScript.WriteByte(byte(len(redeem)))
	sigScript.Write(redeem)

	got := GetPreciseSigOpCount(sigScript.Bytes(), p2shScript(), true)
	if got != 3 {
		t.Errorf("p2sh 2-of-3: got %d want 3", got)
	}

	// Without bip16 the locking script is counted legacy-style.
	got = GetPreciseSigOpCount(sigScript.Bytes(), p2shScript(), false)
	if got != 0 {
		t.Errorf("p2sh lock without bip16: got %d want 0", got)
	}

	// A non-P2SH locking script ignores the signature script.
	got = GetPreciseSigOpCount(sigScript.Bytes(), p2pkhScript(), true)
	if got != 1 {
		t.Errorf("p2pkh: got %d want 1", got)
	}

	// A non-push signature script yields no P2SH sigops.
	got = GetPreciseSigOpCount([]byte{OP_CHECKSIG}, p2shScript(), true)
	if got != 0 {
		t.Errorf("non-push sigscript: got %d want 0", got)
	}
}

// TestScriptClass checks the standard template recognition.
func TestScriptClass(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		class  ScriptClass
	}{
		{"p2pkh", p2pkhScript(), PubKeyHashTy},
		{"p2sh", p2shScript(), ScriptHashTy},
		{"multisig", multisigScript(), MultiSigTy},
		{"nulldata", []byte{OP_RETURN}, NullDataTy},
		{"nonstandard", []byte{OP_DUP}, NonStandardTy},
	}
	for _, test := range tests {
		if got := GetScriptClass(test.script); got != test.class {
			t.Errorf("%s: got %v want %v", test.name, got, test.class)
		}
	}

	if !IsPayToScriptHash(p2shScript()) {
		t.Errorf("IsPayToScriptHash rejected a p2sh script")
	}
	if IsPayToScriptHash(p2pkhScript()) {
		t.Errorf("IsPayToScriptHash accepted a p2pkh script")
	}
}

// TestNumberScript checks the canonical numeric push encodings used by the
// coinbase height rule.
func TestNumberScript(t *testing.T) {
	tests := []struct {
		in   int64
		want []byte
	}{
		{0, []byte{OP_0}},
		{-1, []byte{OP_1NEGATE}},
		{1, []byte{OP_1}},
		{16, []byte{OP_16}},
		{17, []byte{0x01, 0x11}},
		{128, []byte{0x02, 0x80, 0x00}},
		{154000, []byte{0x03, 0x90, 0x59, 0x02}},
	}
	for _, test := range tests {
		got := NumberScript(test.in)
		if !bytes.Equal(got, test.want) {
			t.Errorf("NumberScript(%d): got %x want %x", test.in, got, test.want)
		}
	}
}

// TestPushedData checks push extraction.
func TestPushedData(t *testing.T) {
	script := []byte{0x02, 0xab, 0xcd, OP_0, 0x01, 0xee}
	pushes := PushedData(script)
	if len(pushes) != 3 {
		t.Fatalf("PushedData: got %d pushes, want 3", len(pushes))
	}
	if !bytes.Equal(pushes[0], []byte{0xab, 0xcd}) {
		t.Errorf("push 0 mismatch: %x", pushes[0])
	}
	if pushes[1] != nil {
		t.Errorf("push 1 must be the empty push")
	}
	if !bytes.Equal(pushes[2], []byte{0xee}) {
		t.Errorf("push 2 mismatch: %x", pushes[2])
	}
}
