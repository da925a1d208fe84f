// Package cryptobox seals secrets at rest with AES-256-GCM.
//
// Sealed values are base64(nonce || ciphertext || tag) with a fresh
// 96-bit nonce per call, so one string holds everything needed to open
// the value again.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required key length (AES-256).
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrKeySize is returned by New for keys that are not KeySize bytes.
	ErrKeySize = errors.New("cryptobox: key must be 32 bytes")
	// ErrDecrypt is returned for malformed, truncated or tampered input.
	ErrDecrypt = errors.New("cryptobox: decryption failed")
)

// Box encrypts and decrypts column values. It is safe for concurrent use.
type Box struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead, rand: rand.Reader}, nil
}

// NewFromBase64 decodes a standard base64 key and calls New.
func NewFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decode key: %w", err)
	}
	return New(key)
}

// Encrypt seals plaintext and returns the encoded column value.
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	if _, err := io.ReadFull(b.rand, nonce); err != nil {
		return "", err
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. It never returns partial
// or unauthenticated plaintext.
func (b *Box) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < nonceSize+tagSize {
		return "", ErrDecrypt
	}
	plaintext, err := b.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
