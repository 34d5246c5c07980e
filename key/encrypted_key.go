package key

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
)

// ErrWrongKey is returned when a wrapped key is opened with a key other
// than the one that wrapped it.
var ErrWrongKey = errors.New("key was not wrapped by this decrypter")

// EncryptedKey is key material wrapped as an EncString under another key.
type EncryptedKey interface {
	ID() string
	EncryptedBy() string
	Type() Type
	Wrapped() crypto.EncString
	// Decrypter unwraps into a Key for symmetric types or a *PrivateKey.
	Decrypter(Decrypter) (Decrypter, error)
	// Unwrap is Decrypter restricted to symmetric key types.
	Unwrap(Decrypter) (Key, error)
}

type encryptedKey struct {
	keyID       string
	encryptedBy string
	keyType     Type
	wrapped     crypto.EncString
}

func (ek *encryptedKey) ID() string {
	return ek.keyID
}

func (ek *encryptedKey) Type() Type {
	return ek.keyType
}

func (ek *encryptedKey) EncryptedBy() string {
	return ek.encryptedBy
}

func (ek *encryptedKey) Wrapped() crypto.EncString {
	return ek.wrapped
}

func (ek *encryptedKey) checkDecrypter(d Decrypter) error {
	if ek.encryptedBy != "" && d.ID() != "" && ek.encryptedBy != d.ID() {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrWrongKey, ek.keyID, ek.encryptedBy, d.ID())
	}
	return nil
}

func (ek *encryptedKey) Decrypter(d Decrypter) (Decrypter, error) {
	if err := ek.checkDecrypter(d); err != nil {
		return nil, err
	}
	raw, err := d.Decrypt(ek.wrapped)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(raw)

	if ek.keyType == Private {
		return NewPrivateKey(ek.keyID, raw), nil
	}
	return FromBytes(ek.keyID, ek.keyType, raw)
}

func (ek *encryptedKey) Unwrap(d Decrypter) (Key, error) {
	if !ek.keyType.Symmetric() {
		return nil, fmt.Errorf("unwrapping %s key: %w", ek.keyType, ErrUnknownType)
	}
	dec, err := ek.Decrypter(d)
	if err != nil {
		return nil, err
	}
	return dec.(Key), nil
}

func newEncryptedKey(e Encrypter, id string, keyType Type, raw []byte) (EncryptedKey, error) {
	wrapped, err := e.Encrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("encrypting key: %w", err)
	}

	return &encryptedKey{
		keyID:       id,
		encryptedBy: e.ID(),
		keyType:     keyType,
		wrapped:     wrapped,
	}, nil
}

// FromWire builds an EncryptedKey from a wrapped form received from the
// server or read from the local cache.
func FromWire(keyID, encryptedBy string, t Type, wrapped crypto.EncString) EncryptedKey {
	return &encryptedKey{
		keyID:       keyID,
		encryptedBy: encryptedBy,
		keyType:     t,
		wrapped:     wrapped,
	}
}
