package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey is returned by NewSealer for keys that are not 16, 24 or 32 bytes.
	ErrInvalidKey = errors.New("invalid sealing key length")
	// ErrOpenFailed means the ciphertext was truncated, tampered with or sealed under a
	// different key.
	ErrOpenFailed = errors.New("sealed value could not be opened")
)

// Sealer encrypts values at rest with AES-GCM. Output layout is nonce||ciphertext||tag.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a raw AES key.
func NewSealer(key []byte) (*Sealer, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. additional is authenticated but not encrypted; callers bind
// the storage key there so a blob cannot be replayed under another key.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrOpenFailed
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], additional)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// SealString seals a string and returns base64 (std encoding) for text columns.
func (s *Sealer) SealString(plaintext string, additional []byte) (string, error) {
	out, err := s.Seal([]byte(plaintext), additional)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(sealed string, additional []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrOpenFailed
	}
	plain, err := s.Open(raw, additional)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
