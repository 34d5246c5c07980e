package key

import (
	"fmt"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
)

// Encrypter can encrypt data and identify itself.
type Encrypter interface {
	ID() string
	Encrypt([]byte) (crypto.EncString, error)
}

// Decrypter can decrypt data and identify itself.
type Decrypter interface {
	ID() string
	Decrypt(crypto.EncString) ([]byte, error)
}

// Key is a symmetric key that can both encrypt and decrypt.
type Key interface {
	Type() Type
	// Symmetric exposes the enc/mac halves for the duration of a call.
	// Callers must not retain it past Wipe.
	Symmetric() *crypto.SymmetricKey
	EncryptKey(Encrypter) (EncryptedKey, error)
	Wipe()
	Encrypter
	Decrypter
}

type key struct {
	keyID   string
	keyType Type
	sym     *crypto.SymmetricKey
}

func (k *key) ID() string {
	return k.keyID
}

func (k *key) Type() Type {
	return k.keyType
}

func (k *key) Symmetric() *crypto.SymmetricKey {
	return k.sym
}

func (k *key) EncryptKey(e Encrypter) (EncryptedKey, error) {
	raw := k.sym.Bytes()
	defer util.WipeBytes(raw)
	return newEncryptedKey(e, k.keyID, k.keyType, raw)
}

func (k *key) Encrypt(plainText []byte) (crypto.EncString, error) {
	return crypto.Default().EncryptToEncString(plainText, k.sym)
}

func (k *key) Decrypt(es crypto.EncString) ([]byte, error) {
	return crypto.Default().DecryptEncString(es, k.sym)
}

func (k *key) Wipe() {
	k.sym.Wipe()
}

// FromBytes wraps raw 64-byte key material. The input is copied.
func FromBytes(keyID string, t Type, raw []byte) (Key, error) {
	if !t.Symmetric() {
		return nil, fmt.Errorf("%s keys are not symmetric: %w", t, ErrUnknownType)
	}
	sym, err := crypto.NewSymmetricKey(raw)
	if err != nil {
		return nil, err
	}
	return &key{keyID: keyID, keyType: t, sym: sym}, nil
}

// FromSymmetric takes ownership of sym.
func FromSymmetric(keyID string, t Type, sym *crypto.SymmetricKey) Key {
	return &key{keyID: keyID, keyType: t, sym: sym}
}

// New generates a random 512-bit key of the given type.
func New(t Type) (Key, error) {
	sym, err := crypto.Default().GenerateSymmetricKey()
	if err != nil {
		return nil, fmt.Errorf("generating %s key: %w", t, err)
	}
	return &key{keyID: uuid.New(), keyType: t, sym: sym}, nil
}
