// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// Hasher computes the proof-of-work digest of a serialized 80-byte block
// header.  The block identifier is always double-SHA-256 of the header; the
// proof-of-work digest may be produced by a different, usually memory-hard,
// function.  Hashers must be safe for concurrent use: the miner calls them
// from several worker goroutines at once.
type Hasher interface {
	// Name reports the registered name of the hashing profile.
	Name() string

	// PoWHash computes the proof-of-work digest of the serialized header.
	PoWHash(header []byte) chainhash.Hash
}

var (
	hashersMtx sync.RWMutex
	hashers    = make(map[string]Hasher)
)

// RegisterHasher makes a proof-of-work profile available by name.  Profiles
// registered twice panic; the hasher set is fixed at startup.
func RegisterHasher(h Hasher) {
	hashersMtx.Lock()
	defer hashersMtx.Unlock()
	if _, ok := hashers[h.Name()]; ok {
		panic(fmt.Sprintf("pow: hasher %q registered twice", h.Name()))
	}
	hashers[h.Name()] = h
}

// GetHasher returns the profile registered under name.
func GetHasher(name string) (Hasher, error) {
	hashersMtx.RLock()
	defer hashersMtx.RUnlock()
	h, ok := hashers[name]
	if !ok {
		return nil, fmt.Errorf("pow: unknown hasher %q", name)
	}
	return h, nil
}

// SHA256dHasher is the trivial profile where the proof-of-work digest equals
// the block identifier.  It is the profile used by the simulation network and
// by the consensus tests.
type SHA256dHasher struct{}

func (SHA256dHasher) Name() string { return "sha256d" }

func (SHA256dHasher) PoWHash(header []byte) chainhash.Hash {
	return chainhash.DoubleHashH(header)
}

// ScryptHasher is the memory-hard profile used by blocks before the hasher
// switch height.  Parameters are the classic N=1024, r=1, p=1 with the header
// doubling as both password and salt.
type ScryptHasher struct{}

func (ScryptHasher) Name() string { return "scrypt" }

func (ScryptHasher) PoWHash(header []byte) chainhash.Hash {
	digest, err := scrypt.Key(header, header, 1024, 1, 1, chainhash.HashSize)
	if err != nil {
		// The parameters are compile-time constants; Key can only fail
		// on invalid parameters.
		panic(err)
	}
	var hash chainhash.Hash
	copy(hash[:], digest)
	return hash
}

func init() {
	RegisterHasher(SHA256dHasher{})
	RegisterHasher(ScryptHasher{})
}
