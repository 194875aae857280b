package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashFirmKey returns a filesystem-safe identifier for a firm ID.
func HashFirmKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
