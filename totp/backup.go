package totp

import (
	"strings"

	"github.com/MrEthical07/stayAuth/cryptoutil"
)

// BackupCodeAlphabet omits 0/O and 1/I. Its 32 symbols divide 256 evenly, so masking a
// random byte gives an unbiased pick.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes returns count human-formatted codes (XXXXX-XXXXX). Count <= 0 uses
// the configured default.
func (e *Engine) GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 {
		count = e.config.BackupCodeCount
	}
	length := e.config.BackupCodeLength

	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := cryptoutil.RandomRaw(length)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		b.Grow(length)
		for _, v := range raw {
			b.WriteByte(BackupCodeAlphabet[v&31])
		}
		codes = append(codes, FormatBackupCode(b.String()))
	}
	return codes, nil
}

// FormatBackupCode splits a code into two dash-separated halves.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// NormalizeBackupCode strips grouping characters and lower-cases the code.
func NormalizeBackupCode(code string) string {
	s := strings.ToLower(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode returns the hex SHA-256 of the normalized code.
func HashBackupCode(code string) string {
	h, _ := cryptoutil.Std.Hash(cryptoutil.SHA256, []byte(NormalizeBackupCode(code)))
	return h
}

// VerifyBackupCode hashes input and looks it up in hashes. It returns the index of the
// match or -1. hashes is never modified.
func VerifyBackupCode(input string, hashes []string) (bool, int) {
	if NormalizeBackupCode(input) == "" {
		return false, -1
	}
	candidate := HashBackupCode(input)
	found := -1
	for i, h := range hashes {
		if cryptoutil.Std.ConstantTimeEqual(candidate, h) && found < 0 {
			found = i
		}
	}
	return found >= 0, found
}

// IsBackupCodeShape reports whether input has the length of a backup code and not the
// shape of a numeric one-time code.
func (e *Engine) IsBackupCodeShape(input string) bool {
	n := NormalizeBackupCode(input)
	if len(n) != e.config.BackupCodeLength {
		return false
	}
	return !(len(n) == e.config.Digits && isDigits(n))
}
