// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// TestSignVerify exercises the plain DER signature path.
func TestSignVerify(t *testing.T) {
	key, err := NewPrivateKey()
	require.NoError(t, err)

	digest := chainhash.DoubleHashB([]byte("consensus message"))
	sig := Sign(key, digest)

	assert.True(t, Verify(key.PubKey(), digest, sig))

	// A different digest must not verify.
	other := chainhash.DoubleHashB([]byte("another message"))
	assert.False(t, Verify(key.PubKey(), other, sig))

	// Garbage signatures must not verify.
	assert.False(t, Verify(key.PubKey(), digest, []byte{0x30, 0x01, 0x02}))
}

// TestSignCompactRecover ensures the public key recovered from a compact
// signature matches the signing key, for both compression flavors.
func TestSignCompactRecover(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		key, err := NewPrivateKey()
		require.NoError(t, err)

		digest := chainhash.DoubleHashB([]byte("recoverable"))
		sig := SignCompact(key, digest, compressed)
		require.Len(t, sig, 65)

		recovered, wasCompressed, err := RecoverCompact(sig, digest)
		require.NoError(t, err)
		assert.Equal(t, compressed, wasCompressed)
		assert.True(t, recovered.IsEqual(key.PubKey()))

		assert.True(t, VerifyCompact(key.PubKey(), digest, sig))

		// Recovery against a different digest yields a different key.
		other := chainhash.DoubleHashB([]byte("tampered"))
		assert.False(t, VerifyCompact(key.PubKey(), other, sig))
	}
}

// TestVerifySignedPayload covers the alert and sync-checkpoint signature
// contract: a DER signature over the double-SHA-256 of the payload.
func TestVerifySignedPayload(t *testing.T) {
	key, err := NewPrivateKey()
	require.NoError(t, err)

	payload := []byte("signed checkpoint payload")
	sig := Sign(key, chainhash.DoubleHashB(payload))

	serialized := key.PubKey().SerializeUncompressed()
	assert.NoError(t, VerifySignedPayload(serialized, payload, sig))

	// A modified payload must fail.
	assert.Error(t, VerifySignedPayload(serialized, append(payload, 0x00), sig))

	// A different key must fail.
	otherKey, err := NewPrivateKey()
	require.NoError(t, err)
	assert.Error(t, VerifySignedPayload(otherKey.PubKey().SerializeUncompressed(),
		payload, sig))

	// An empty key must fail cleanly.
	assert.Error(t, VerifySignedPayload(nil, payload, sig))
}
