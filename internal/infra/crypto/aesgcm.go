// Package crypto provides the cipher used to protect session credential
// material at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen     = 32
	pbkdf2Iter = 600_000
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Cipher encrypts with AES-256-GCM under a key derived from an operator
// passphrase. The random nonce is prepended to the ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

func New(passphrase, salt string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is required")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iter, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *Cipher) Decrypt(enc []byte) ([]byte, error) {
	if len(enc) < c.aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := enc[:c.aead.NonceSize()], enc[c.aead.NonceSize():]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}
