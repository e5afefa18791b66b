// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"

	"github.com/pkg/errors"
)

const (
	// WalletKeySize is the AES-256 key length used by the key vault.
	WalletKeySize = 32

	// WalletIVSize is the AES block/IV length.
	WalletIVSize = 16

	// DefaultDerivationRounds is the default number of digest rounds used
	// when deriving a vault key from a passphrase.  The wallet calibrates
	// this to roughly 0.1 s of work on first use.
	DefaultDerivationRounds = 25000
)

// ErrBadPadding is returned when a decrypted payload carries an invalid
// PKCS#7 padding, which almost always means a wrong passphrase.
var ErrBadPadding = errors.New("crypto: invalid padding")

// Crypter performs AES-256-CBC encryption of wallet key material.  The engine
// itself never stores keys; the wallet supplies passphrases and consumes the
// sealed blobs.
type Crypter struct {
	key [WalletKeySize]byte
	iv  [WalletIVSize]byte
	set bool
}

// SetKeyFromPassphrase derives the symmetric key and IV from a passphrase,
// salt and round count using chained SHA-512 digests: the first block is
// SHA-512(passphrase||salt) rehashed rounds times, each following block
// starts from the previous digest.  The derivation matches the byte stream
// of OpenSSL's EVP_BytesToKey with SHA-512.
func (c *Crypter) SetKeyFromPassphrase(passphrase, salt []byte, rounds int) error {
	if rounds < 1 {
		rounds = 1
	}

	var derived []byte
	var prev []byte
	for len(derived) < WalletKeySize+WalletIVSize {
		h := sha512.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		block := h.Sum(nil)
		for i := 1; i < rounds; i++ {
			sum := sha512.Sum512(block)
			block = sum[:]
		}
		derived = append(derived, block...)
		prev = block
	}

	copy(c.key[:], derived[:WalletKeySize])
	copy(c.iv[:], derived[WalletKeySize:WalletKeySize+WalletIVSize])
	c.set = true
	return nil
}

// SetKey sets the symmetric key and IV directly.  This is used when the vault
// key itself has been unsealed with a passphrase-derived key.
func (c *Crypter) SetKey(key, iv []byte) error {
	if len(key) != WalletKeySize || len(iv) != WalletIVSize {
		return errors.Errorf("crypto: need %d-byte key and %d-byte iv",
			WalletKeySize, WalletIVSize)
	}
	copy(c.key[:], key)
	copy(c.iv[:], iv)
	c.set = true
	return nil
}

// CleanKey wipes the key material.
func (c *Crypter) CleanKey() {
	for i := range c.key {
		c.key[i] = 0
	}
	for i := range c.iv {
		c.iv[i] = 0
	}
	c.set = false
}

// Encrypt seals plaintext with AES-256-CBC and PKCS#7 padding.
func (c *Crypter) Encrypt(plaintext []byte) ([]byte, error) {
	if !c.set {
		return nil, errors.New("crypto: key not set")
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv[:]).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt opens a sealed blob and strips the PKCS#7 padding.
func (c *Crypter) Decrypt(ciphertext []byte) ([]byte, error) {
	if !c.set {
		return nil, errors.New("crypto: key not set")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("crypto: ciphertext is not block aligned")
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv[:]).CryptBlocks(plaintext, ciphertext)

	padLen := int(plaintext[len(plaintext)-1])
	if padLen < 1 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, ErrBadPadding
	}
	for _, b := range plaintext[len(plaintext)-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}
