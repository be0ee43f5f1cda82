package util

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateNonce returns n random bytes hex-encoded.
func GenerateNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
