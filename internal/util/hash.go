package util

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// HashFunc resolves a hash constructor by name ("sha1", "sha256", "sha512").
func HashFunc(name string) (func() hash.Hash, error) {
	switch name {
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
	}
}

// Digest hashes data with the named algorithm.
func Digest(name string, data []byte) ([]byte, error) {
	h, err := HashFunc(name)
	if err != nil {
		return nil, err
	}
	d := h()
	d.Write(data)
	return d.Sum(nil), nil
}

// HMAC computes the keyed MAC of data with the named algorithm.
func HMAC(name string, key, data []byte) ([]byte, error) {
	h, err := HashFunc(name)
	if err != nil {
		return nil, err
	}
	m := hmac.New(h, key)
	m.Write(data)
	return m.Sum(nil), nil
}
