package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams struct {
	Time        uint32 `json:"time" yaml:"time"`
	MemoryKiB   uint32 `json:"memory" yaml:"memory"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

// DeriveArgon2idKey runs Argon2id. Parameter floors are enforced by the
// caller's KDF settings.
func DeriveArgon2idKey(password []byte, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey(password, salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}
