package util

import (
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFExpand is the RFC 5869 expand step on an existing pseudorandom key.
func HKDFExpand(prk, info []byte, outLen int, hashName string) ([]byte, error) {
	h, err := HashFunc(hashName)
	if err != nil {
		return nil, err
	}
	hashLen := h().Size()
	if outLen <= 0 || outLen > 255*hashLen {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrOutputLength, outLen, 255*hashLen)
	}
	if len(prk) < hashLen {
		return nil, fmt.Errorf("%w: prk is %d bytes, need at least %d", ErrKeySize, len(prk), hashLen)
	}
	out := make([]byte, outLen)
	if _, err := io.ReadFull(hkdf.Expand(h, prk, info), out); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return out, nil
}
