package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateNumericCode returns a random numeric string of the given length,
// used for one-time challenge codes.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	digits := make([]byte, length)
	for i, b := range buf {
		digits[i] = '0' + (b % 10)
	}

	return string(digits), nil
}

// GenerateSecureKey returns a base64 URL-safe random string using the
// specified number of random bytes, used for opaque visitor keys.
func GenerateSecureKey(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
