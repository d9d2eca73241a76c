package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names a digest used for hashing and HMAC.
type Algorithm string

const (
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

var (
	// ErrUnsupportedAlgorithm is returned for digests other than SHA1, SHA256 and SHA512.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	// ErrInvalidLength is returned when a random read is requested for n <= 0.
	ErrInvalidLength = errors.New("invalid random length")
)

// Provider is the capability surface for cryptographic primitives.
type Provider interface {
	HMAC(alg Algorithm, key, data []byte) (string, error)
	Hash(alg Algorithm, data []byte) (string, error)
	RandomBytes(n int) (string, error)
	ConstantTimeEqual(a, b string) bool
}

// Std is the production Provider backed by the Go crypto packages.
var Std Provider = stdProvider{}

type stdProvider struct{}

// HMAC returns hex(HMAC_alg(key, data)).
func (stdProvider) HMAC(alg Algorithm, key, data []byte) (string, error) {
	mac, err := HMACRaw(alg, key, data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

// Hash returns hex(alg(data)).
func (stdProvider) Hash(alg Algorithm, data []byte) (string, error) {
	hf, err := HashFunc(alg)
	if err != nil {
		return "", err
	}
	h := hf()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RandomBytes reads n bytes from crypto/rand and returns them hex encoded.
func (stdProvider) RandomBytes(n int) (string, error) {
	raw, err := RandomRaw(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// ConstantTimeEqual reports whether a and b are equal without leaking the position of
// the first difference. Empty inputs never compare equal.
func (stdProvider) ConstantTimeEqual(a, b string) bool {
	return EqualBytes([]byte(a), []byte(b))
}

// EqualBytes is the byte-slice form of ConstantTimeEqual.
func EqualBytes(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// HMACRaw returns the raw MAC bytes. Used by the OTP engine, which truncates the digest
// itself.
func HMACRaw(alg Algorithm, key, data []byte) ([]byte, error) {
	hf, err := HashFunc(alg)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(hf, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// RandomRaw returns n bytes from crypto/rand.
func RandomRaw(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return buf, nil
}

// HashFunc maps an Algorithm to its constructor. Names are case-insensitive and the
// empty name means SHA1, matching the otpauth default.
func HashFunc(alg Algorithm) (func() hash.Hash, error) {
	switch Algorithm(strings.ToUpper(string(alg))) {
	case "", SHA1:
		return sha1.New, nil
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
