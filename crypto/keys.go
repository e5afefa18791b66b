// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// PrivateKey wraps a secp256k1 private key.
type PrivateKey = btcec.PrivateKey

// PublicKey wraps a secp256k1 public key.
type PublicKey = btcec.PublicKey

// NewPrivateKey generates a new cryptographically secure private key.
func NewPrivateKey() (*PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PrivKeyFromBytes reconstructs a private key from its 32-byte serialization.
func PrivKeyFromBytes(b []byte) *PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv
}

// ParsePubKey parses a serialized (compressed or uncompressed) public key.
func ParsePubKey(b []byte) (*PublicKey, error) {
	return btcec.ParsePubKey(b)
}

// Sign produces a DER-encoded ECDSA signature of the given 32-byte digest.
func Sign(key *PrivateKey, hash []byte) []byte {
	return ecdsa.Sign(key, hash).Serialize()
}

// Verify checks a DER-encoded ECDSA signature of hash against the public key.
func Verify(pub *PublicKey, hash, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pub)
}

// SignCompact produces a 65-byte recoverable signature of the given 32-byte
// digest.  The first byte encodes the recovery id; the remaining 64 bytes are
// the R and S values.  The compressed flag records whether the corresponding
// public key should be recovered in compressed form.
func SignCompact(key *PrivateKey, hash []byte, compressed bool) []byte {
	sig, _ := ecdsa.SignCompact(key, hash, compressed)
	return sig
}

// RecoverCompact recovers the public key from a 65-byte recoverable signature
// and the signed 32-byte digest.
func RecoverCompact(signature, hash []byte) (*PublicKey, bool, error) {
	return ecdsa.RecoverCompact(signature, hash)
}

// VerifyCompact recovers the public key from the compact signature and
// reports whether it matches the expected key.  Alert and sync-checkpoint
// messages are verified with VerifySignedPayload instead.
func VerifyCompact(expected *PublicKey, hash, signature []byte) bool {
	recovered, _, err := RecoverCompact(signature, hash)
	if err != nil {
		return false
	}
	return recovered.IsEqual(expected)
}

// VerifySignedPayload checks a DER signature over double-SHA-256 of data
// against the given serialized public key.  It is the contract used by the
// alert and sync-checkpoint handlers where the key is a hard-coded constant.
func VerifySignedPayload(serializedPubKey, data, sig []byte) error {
	if len(serializedPubKey) == 0 {
		return errors.New("crypto: empty public key")
	}
	pub, err := ParsePubKey(serializedPubKey)
	if err != nil {
		return errors.Wrap(err, "crypto: bad public key")
	}
	digest := chainhash.DoubleHashB(data)
	if !Verify(pub, digest, sig) {
		return errors.New("crypto: signature mismatch")
	}
	return nil
}

// EqualPubKeys reports whether two serialized public keys are the same key.
func EqualPubKeys(a, b []byte) bool {
	return bytes.Equal(a, b)
}
