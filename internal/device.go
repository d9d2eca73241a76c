package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceFingerprint hashes the client-supplied device attributes into a stable hex
// digest. Empty parts are kept so ("a", "") and ("", "a") differ.
func DeviceFingerprint(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.TrimSpace(p)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
