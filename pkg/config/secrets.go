package config

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for API token hashing.
const (
	saltSize = 16
	scryptN  = 32768 // 2^15
	scryptR  = 8
	scryptP  = 1
	keySize  = 32
)

// HashAPIToken derives a storable hash of an API token. The result is
// "salt:key" hex-encoded and safe to keep in configuration or environment.
func HashAPIToken(token string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(token), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// VerifyAPIToken checks a presented token against a stored "salt:key" hash
// in constant time.
func VerifyAPIToken(token, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}

	key, err := scrypt.Key([]byte(token), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(key, expected) == 1
}

// GetSecret returns a secret value by environment variable name. Empty values
// are treated as unset.
func GetSecret(name string) (string, error) {
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not set", name)
}
