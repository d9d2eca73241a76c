package totp

import (
	"strings"
	"testing"
)

func TestGenerateBackupCodesShape(t *testing.T) {
	e := newTestEngine(t, nil)
	codes, err := e.GenerateBackupCodes(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Fatalf("unexpected format %q", c)
		}
		for _, r := range strings.ReplaceAll(c, "-", "") {
			if !strings.ContainsRune(BackupCodeAlphabet, r) {
				t.Fatalf("code %q contains symbol outside alphabet", c)
			}
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}
}

func TestHashBackupCodeIgnoresFormatting(t *testing.T) {
	a := HashBackupCode("ABCDE-FGH23")
	b := HashBackupCode(" abcde fgh23 ")
	c := HashBackupCode("abcdefgh23")
	if a != b || b != c {
		t.Fatalf("formatting changed the hash: %s %s %s", a, b, c)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestVerifyBackupCodeSingleUse(t *testing.T) {
	e := newTestEngine(t, nil)
	codes, _ := e.GenerateBackupCodes(3)
	hashes := make([]string, 0, len(codes))
	for _, c := range codes {
		hashes = append(hashes, HashBackupCode(c))
	}

	ok, idx := VerifyBackupCode(strings.ToLower(codes[1]), hashes)
	if !ok || idx != 1 {
		t.Fatalf("expected match at index 1, got ok=%v idx=%d", ok, idx)
	}
	if len(hashes) != 3 {
		t.Fatal("VerifyBackupCode must not mutate the slice")
	}

	// The caller removes the consumed entry.
	hashes = append(hashes[:idx], hashes[idx+1:]...)
	if ok, _ := VerifyBackupCode(codes[1], hashes); ok {
		t.Fatal("consumed backup code verified a second time")
	}
	if ok, _ := VerifyBackupCode("", hashes); ok {
		t.Fatal("empty input must not verify")
	}
}

func TestIsBackupCodeShape(t *testing.T) {
	e := newTestEngine(t, nil)
	if e.IsBackupCodeShape("123456") {
		t.Fatal("numeric otp treated as backup code")
	}
	if !e.IsBackupCodeShape("ABCDE-FGH23") {
		t.Fatal("formatted backup code not recognized")
	}
}
