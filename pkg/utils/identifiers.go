package utils

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// ContentFingerprint returns the content-addressed hash used for document
// de-duplication: the first 12 hex characters of the SHA-256 digest.
func ContentFingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)[:12]
}

// GenerateRequestID generates a new UUID for request correlation.
func GenerateRequestID() string {
	return uuid.New().String()
}
