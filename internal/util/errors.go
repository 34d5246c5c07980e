package util

import "errors"

var (
	// ErrKeySize is returned when a key has the wrong length for the primitive.
	ErrKeySize = errors.New("invalid key size")
	// ErrIVSize is returned when an IV is not exactly one AES block.
	ErrIVSize = errors.New("invalid IV size")
	// ErrPadding is returned when PKCS#7 padding does not verify after decryption.
	ErrPadding = errors.New("invalid padding")
	// ErrUnsupportedHash is returned for hash algorithms the helpers do not implement.
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
	// ErrOutputLength is returned when a KDF is asked for an impossible output length.
	ErrOutputLength = errors.New("invalid output length")
	// ErrRandom is returned when the system CSPRNG cannot be read.
	ErrRandom = errors.New("random source unavailable")
)
