// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCrypterRoundTrip seals and opens key material with a passphrase
// derived key.
func TestCrypterRoundTrip(t *testing.T) {
	var c Crypter
	salt := []byte("0123456789abcdef")
	require.NoError(t, c.SetKeyFromPassphrase([]byte("correct horse"), salt, 100))

	secret := []byte("32 bytes of very private key data")
	sealed, err := c.Encrypt(secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, sealed)
	assert.Equal(t, 0, len(sealed)%16, "ciphertext must be block aligned")

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(secret, opened))
}

// TestCrypterDeterministicDerivation ensures the same passphrase, salt, and
// rounds derive the same key stream.
func TestCrypterDeterministicDerivation(t *testing.T) {
	var a, b Crypter
	salt := []byte("saltsaltsaltsalt")
	require.NoError(t, a.SetKeyFromPassphrase([]byte("pass"), salt, 1000))
	require.NoError(t, b.SetKeyFromPassphrase([]byte("pass"), salt, 1000))

	sealed, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)
	opened, err := b.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)

	// Different rounds derive a different key.
	var c Crypter
	require.NoError(t, c.SetKeyFromPassphrase([]byte("pass"), salt, 1001))
	if opened, err := c.Decrypt(sealed); err == nil {
		assert.NotEqual(t, []byte("payload"), opened)
	}
}

// TestCrypterWrongPassphrase ensures decryption under the wrong key fails
// or yields garbage, never the plaintext.
func TestCrypterWrongPassphrase(t *testing.T) {
	var c Crypter
	salt := []byte("fedcba9876543210")
	require.NoError(t, c.SetKeyFromPassphrase([]byte("right"), salt, 100))

	sealed, err := c.Encrypt([]byte("the secret"))
	require.NoError(t, err)

	var wrong Crypter
	require.NoError(t, wrong.SetKeyFromPassphrase([]byte("wrong"), salt, 100))
	if opened, err := wrong.Decrypt(sealed); err == nil {
		assert.NotEqual(t, []byte("the secret"), opened)
	}
}

// TestCrypterUsageErrors covers the guard rails.
func TestCrypterUsageErrors(t *testing.T) {
	var c Crypter

	_, err := c.Encrypt([]byte("x"))
	assert.Error(t, err, "encrypt without a key must fail")

	require.NoError(t, c.SetKey(make([]byte, WalletKeySize), make([]byte, WalletIVSize)))
	_, err = c.Decrypt([]byte{0x01, 0x02})
	assert.Error(t, err, "unaligned ciphertext must fail")

	err = c.SetKey([]byte{0x01}, []byte{0x02})
	assert.Error(t, err, "short key material must fail")

	c.CleanKey()
	_, err = c.Encrypt([]byte("x"))
	assert.Error(t, err, "encrypt after CleanKey must fail")
}
