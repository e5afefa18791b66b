// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"math/big"
	"testing"
)

// TestBigToCompact ensures BigToCompact converts big integers to the expected
// compact representation.
func TestBigToCompact(t *testing.T) {
	tests := []struct {
		in  int64
		out uint32
	}{
		{0, 0},
		{-1, 25231360},
		{287970689, 0x04112a15},
	}

	for x, test := range tests {
		n := big.NewInt(test.in)
		r := BigToCompact(n)
		if r != test.out {
			t.Errorf("TestBigToCompact test #%d failed: got %d want %d\n",
				x, r, test.out)
			return
		}
	}
}

// TestCompactToBig ensures CompactToBig converts numbers using the compact
// representation to the expected big integers.
func TestCompactToBig(t *testing.T) {
	tests := []struct {
		in  uint32
		out int64
	}{
		{10000000, 0},
		{0x04123456, 0x12345600},
		{0x04112a05, 287966464},
	}

	for x, test := range tests {
		n := CompactToBig(test.in)
		want := big.NewInt(test.out)
		if n.Cmp(want) != 0 {
			t.Errorf("TestCompactToBig test #%d failed: got %d want %d\n",
				x, n.Int64(), test.out)
			return
		}
	}
}

// TestCompactRoundTrip ensures encoding survives a decode/encode cycle for
// every accepted exponent with a representative mantissa.
func TestCompactRoundTrip(t *testing.T) {
	for exponent := uint32(3); exponent <= 32; exponent++ {
		compact := exponent<<24 | 0x0ffff0
		decoded := CompactToBig(compact)
		reencoded := BigToCompact(decoded)
		if reencoded != compact {
			t.Errorf("round trip failed for %08x: got %08x", compact, reencoded)
		}
	}

	// The canonical minimum-difficulty value.
	if got := BigToCompact(CompactToBig(0x1e0ffff0)); got != 0x1e0ffff0 {
		t.Errorf("round trip failed for 1e0ffff0: got %08x", got)
	}
}

// TestCalcWork ensures lower targets contribute more work.
func TestCalcWork(t *testing.T) {
	easy := CalcWork(0x1e0ffff0)
	hard := CalcWork(0x1d0ffff0)
	if hard.Cmp(easy) <= 0 {
		t.Errorf("harder target must carry more work: easy %v hard %v",
			easy, hard)
	}

	if CalcWork(0).Sign() != 0 {
		t.Errorf("zero bits must carry zero work")
	}
}

// TestHashToBig ensures the byte reversal of hash comparisons.
func TestHashToBig(t *testing.T) {
	var buf [32]byte
	buf[31] = 0x01
	n := HashToBig(&buf)
	want := new(big.Int).Lsh(big.NewInt(1), 248)
	if n.Cmp(want) != 0 {
		t.Errorf("HashToBig: got %v want %v", n, want)
	}
}
