// Package secrets encrypts member credentials at rest using NaCl secretbox.
// No plaintext Last.fm session key ever reaches the database.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Common errors.
var (
	// ErrInvalidKey is returned when the encryption key is malformed.
	ErrInvalidKey = errors.New("secrets: key must be 64 hex characters (32 bytes)")
	// ErrCiphertextTooShort is returned when the stored value is truncated.
	ErrCiphertextTooShort = errors.New("secrets: ciphertext too short")
	// ErrDecryptFailed is returned when authentication of the ciphertext fails.
	ErrDecryptFailed = errors.New("secrets: decryption failed")
)

// Box seals and opens short secrets with a single symmetric key.
type Box struct {
	key [32]byte
}

// NewBox creates a Box from a hex-encoded 32-byte key.
func NewBox(hexKey string) (*Box, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}

	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal encrypts plaintext and returns a base64 string of nonce||ciphertext.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCiphertextTooShort
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh random key in the hex format NewBox expects.
// Intended for operator tooling, not runtime use.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
