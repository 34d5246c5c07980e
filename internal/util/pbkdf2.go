package util

import (
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 derives a key whose length equals the digest size of the named
// hash: 32 bytes for sha256, 64 for sha512.
func PBKDF2(password, salt []byte, hashName string, iterations int) ([]byte, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("pbkdf2 iterations must be positive, got %d", iterations)
	}
	h, err := HashFunc(hashName)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(password, salt, iterations, h().Size(), h), nil
}
