// Package auth handles API key generation and hashing. Only hashes are
// stored; a lost key cannot be recovered, only replaced.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyPrefix makes clusterplane keys recognizable in logs and configs.
const keyPrefix = "cpk_"

// GenerateKey returns a new random API key. Shown to the caller once,
// then only the hash survives.
func GenerateKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: key generation failed: %w", err)
	}
	return keyPrefix + hex.EncodeToString(raw), nil
}

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
