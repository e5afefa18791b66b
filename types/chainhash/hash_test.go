// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainhash

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// mainNetGenesisHashStr is the hash of the first block in the block chain for
// the main network, used as a known-good value.
const mainNetGenesisHashStr = "be2f30f9e8db8f430056869c43503a992d232b28508e83eda101161a18cf7c73"

// TestHashString tests the stringized output for hashes.
func TestHashString(t *testing.T) {
	hash, err := NewHashFromStr(mainNetGenesisHashStr)
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}

	if hash.String() != mainNetGenesisHashStr {
		t.Errorf("String: wrong hash string - got %v, want %v",
			hash.String(), mainNetGenesisHashStr)
	}
}

// TestHash tests the Hash API.
func TestHash(t *testing.T) {
	hash, err := NewHashFromStr(mainNetGenesisHashStr)
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}

	// The hash string is in the reversed byte order, so the last raw byte
	// must match the leading hex pair.
	if hash[HashSize-1] != 0xbe {
		t.Errorf("reversal: got %02x want be", hash[HashSize-1])
	}

	buf := hash.CloneBytes()
	hash2, err := NewHash(buf)
	if err != nil {
		t.Fatalf("NewHash: %v", err)
	}
	if !hash.IsEqual(hash2) {
		t.Errorf("IsEqual: clone mismatch - got %v, want %v", hash2, hash)
	}

	// Invalid size for SetBytes.
	if err := hash2.SetBytes([]byte{0x00}); err == nil {
		t.Errorf("SetBytes: failed to receive expected err - got nil")
	}

	// Invalid size for NewHash.
	if _, err := NewHash([]byte{0x00}); err == nil {
		t.Errorf("NewHash: failed to receive expected err - got nil")
	}

	var zero Hash
	if !zero.IsZero() {
		t.Errorf("IsZero: zero hash reported non-zero")
	}
	if hash.IsZero() {
		t.Errorf("IsZero: non-zero hash reported zero")
	}
}

// TestDoubleHash verifies the double-SHA-256 primitive against an
// independently computed vector.
func TestDoubleHash(t *testing.T) {
	// sha256(sha256("hello")) computed externally.
	want, _ := hex.DecodeString(
		"9595c9df90075148eb06860365df33584b75bff782a510c6cd4883a419833d50")

	got := DoubleHashB([]byte("hello"))
	if !bytes.Equal(got, want) {
		t.Errorf("DoubleHashB: got %x want %x", got, want)
	}

	gotH := DoubleHashH([]byte("hello"))
	if !bytes.Equal(gotH[:], want) {
		t.Errorf("DoubleHashH: got %x want %x", gotH[:], want)
	}
}
