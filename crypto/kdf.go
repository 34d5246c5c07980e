package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironkeep/internal/util"
)

// KDFType selects the master key derivation function.
type KDFType int

const (
	KDFTypePBKDF2   KDFType = 0
	KDFTypeArgon2id KDFType = 1
)

func (t KDFType) String() string {
	switch t {
	case KDFTypePBKDF2:
		return "pbkdf2"
	case KDFTypeArgon2id:
		return "argon2id"
	default:
		return "unknown"
	}
}

// Bounds accepted for account KDF settings. The settings come from the
// server, so the maximums keep them within the widths Argon2id takes.
const (
	DefaultPBKDF2Iterations = 600000
	MinPBKDF2Iterations     = 5000
	MaxPBKDF2Iterations     = 2000000
	MinArgon2Iterations     = 2
	MaxArgon2Iterations     = 10
	MinArgon2MemoryMiB      = 16
	MaxArgon2MemoryMiB      = 1024
	MinArgon2Parallelism    = 1
	MaxArgon2Parallelism    = 16
)

// KDFConfig is the per-account KDF setting the server hands out at prelogin.
type KDFConfig struct {
	Type        KDFType `json:"kdf" yaml:"type" msgpack:"kdf"`
	Iterations  int     `json:"kdfIterations" yaml:"iterations" msgpack:"iterations"`
	MemoryMiB   int     `json:"kdfMemory,omitzero" yaml:"memory_mib" msgpack:"memory_mib"`
	Parallelism int     `json:"kdfParallelism,omitzero" yaml:"parallelism" msgpack:"parallelism"`
}

// DefaultKDFConfig returns PBKDF2-SHA256 with 600000 iterations.
func DefaultKDFConfig() KDFConfig {
	return KDFConfig{Type: KDFTypePBKDF2, Iterations: DefaultPBKDF2Iterations}
}

// ErrKDFOutOfRange is returned by Validate for settings outside the bounds.
var ErrKDFOutOfRange = errors.New("kdf setting out of range")

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d not in [%d, %d]", ErrKDFOutOfRange, name, v, lo, hi)
	}
	return nil
}

// Validate rejects settings outside the bounds.
func (c KDFConfig) Validate() error {
	switch c.Type {
	case KDFTypePBKDF2:
		return checkRange("pbkdf2 iterations", c.Iterations, MinPBKDF2Iterations, MaxPBKDF2Iterations)
	case KDFTypeArgon2id:
		return errors.Join(
			checkRange("argon2id iterations", c.Iterations, MinArgon2Iterations, MaxArgon2Iterations),
			checkRange("argon2id memory MiB", c.MemoryMiB, MinArgon2MemoryMiB, MaxArgon2MemoryMiB),
			checkRange("argon2id parallelism", c.Parallelism, MinArgon2Parallelism, MaxArgon2Parallelism),
		)
	default:
		return newError(UnsupportedAlgorithm, "kdf", fmt.Errorf("kdf type %d", c.Type))
	}
}

// MakeMasterKey derives the 32-byte master key from the password, salted
// with the normalized account email.
func (s *Service) MakeMasterKey(password, email string, kdf KDFConfig) ([]byte, error) {
	if err := kdf.Validate(); err != nil {
		return nil, err
	}
	salt := []byte(util.NormalizeEmail(email))
	switch kdf.Type {
	case KDFTypePBKDF2:
		return s.PBKDF2([]byte(password), salt, SHA256, kdf.Iterations)
	case KDFTypeArgon2id:
		saltHash, err := s.Hash(salt, SHA256)
		if err != nil {
			return nil, err
		}
		params := Argon2idParams{
			Time:        uint32(kdf.Iterations),
			MemoryKiB:   uint32(kdf.MemoryMiB) * 1024,
			Parallelism: uint8(kdf.Parallelism),
			KeyLen:      32,
		}
		k, err := s.backend.Argon2id([]byte(password), saltHash, params)
		return k, classify("argon2id", err, InvalidKeyLength)
	default:
		return nil, newError(UnsupportedAlgorithm, "master-key", fmt.Errorf("kdf type %d", kdf.Type))
	}
}

var (
	stretchEncInfo = []byte("enc")
	stretchMacInfo = []byte("mac")
)

// StretchKey expands the 256-bit master key into the 512-bit key that wraps
// the vault key.
func (s *Service) StretchKey(masterKey []byte) (*SymmetricKey, error) {
	if len(masterKey) != 32 {
		return nil, newError(InvalidKeyLength, "stretch", util.ErrKeySize)
	}
	enc, err := s.HKDFExpand(masterKey, stretchEncInfo, 32, SHA256)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(enc)
	mac, err := s.HKDFExpand(masterKey, stretchMacInfo, 32, SHA256)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(mac)
	return NewSymmetricKeyFromParts(enc, mac)
}

// HashMasterKey is a single PBKDF2 iteration of the master key salted with
// the password. The result is compared locally at unlock; it is never a
// substitute for server-side authentication.
func (s *Service) HashMasterKey(masterKey []byte, password string) (string, error) {
	if len(masterKey) == 0 {
		return "", newError(InvalidKeyLength, "key-hash", errors.New("empty master key"))
	}
	h, err := s.PBKDF2(masterKey, []byte(password), SHA256, 1)
	if err != nil {
		return "", err
	}
	return util.B64Encode(h), nil
}
