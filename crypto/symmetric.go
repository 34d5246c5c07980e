package crypto

import (
	"github.com/jmcleod/ironkeep/internal/util"
)

// SymmetricKeySize is the raw size of a vault, organization, item or
// stretched key: a 32-byte AES key followed by a 32-byte HMAC key.
const SymmetricKeySize = 64

// SymmetricKey pairs an encryption key with the MAC key that authenticates
// everything encrypted under it.
type SymmetricKey struct {
	encKey []byte
	macKey []byte
}

// NewSymmetricKey splits a 64-byte raw key. The input is copied.
func NewSymmetricKey(raw []byte) (*SymmetricKey, error) {
	if len(raw) != SymmetricKeySize {
		return nil, newError(InvalidKeyLength, "symmetric-key", util.ErrKeySize)
	}
	return &SymmetricKey{
		encKey: util.CopyBytes(raw[:32]),
		macKey: util.CopyBytes(raw[32:]),
	}, nil
}

// NewSymmetricKeyFromParts builds a key from separate halves, as produced by
// key stretching.
func NewSymmetricKeyFromParts(encKey, macKey []byte) (*SymmetricKey, error) {
	if len(encKey) != 32 || len(macKey) != 32 {
		return nil, newError(InvalidKeyLength, "symmetric-key", util.ErrKeySize)
	}
	return &SymmetricKey{encKey: util.CopyBytes(encKey), macKey: util.CopyBytes(macKey)}, nil
}

// GenerateSymmetricKey returns a fresh random 512-bit key.
func (s *Service) GenerateSymmetricKey() (*SymmetricKey, error) {
	raw, err := s.RandomBytes(SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(raw)
	return NewSymmetricKey(raw)
}

func (k *SymmetricKey) EncKey() []byte {
	return k.encKey
}

func (k *SymmetricKey) MacKey() []byte {
	return k.macKey
}

// Bytes returns a copy of the raw 64-byte form.
func (k *SymmetricKey) Bytes() []byte {
	return util.Concat(k.encKey, k.macKey)
}

// Wipe zeroes the key material.
func (k *SymmetricKey) Wipe() {
	if k == nil {
		return
	}
	util.WipeBytes(k.encKey)
	util.WipeBytes(k.macKey)
}
