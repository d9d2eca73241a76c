package cryptoutil

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(7))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := s.Seal([]byte("session payload"), []byte("ss:abc"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("session payload")) {
		t.Fatal("sealed output contains plaintext")
	}
	plain, err := s.Open(sealed, []byte("ss:abc"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plain) != "session payload" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestSealerRejectsWrongKeyAndContext(t *testing.T) {
	a, _ := NewSealer(testKey(1))
	b, _ := NewSealer(testKey(2))

	sealed, err := a.Seal([]byte("x"), []byte("k1"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed, []byte("k1")); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed with wrong key, got %v", err)
	}
	if _, err := a.Open(sealed, []byte("k2")); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed with wrong context, got %v", err)
	}
	if _, err := a.Open([]byte("short"), nil); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed for truncated input, got %v", err)
	}
}

func TestSealStringRoundTrip(t *testing.T) {
	s, _ := NewSealer(testKey(3))
	enc, err := s.SealString("JBSWY3DPEHPK3PXP", []byte("u-1"))
	if err != nil {
		t.Fatalf("seal string: %v", err)
	}
	dec, err := s.OpenString(enc, []byte("u-1"))
	if err != nil {
		t.Fatalf("open string: %v", err)
	}
	if dec != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("unexpected value %q", dec)
	}
	if _, err := s.OpenString("not base64!", nil); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
}

func TestNewSealerKeyLength(t *testing.T) {
	if _, err := NewSealer([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
