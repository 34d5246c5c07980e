package keyring

import (
	"fmt"
	"maps"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/storage"
)

const (
	storeNamespace    = "keyring"
	recordTypeAccount = "ACCOUNT"
)

// Account is everything the client persists about a user's keys. Only
// wrapped forms are stored; the key hash is used for local comparison at
// unlock.
type Account struct {
	UserID     string                      `msgpack:"user_id"`
	Email      string                      `msgpack:"email"`
	KDF        crypto.KDFConfig            `msgpack:"kdf"`
	KeyHash    string                      `msgpack:"key_hash"`
	VaultKey   crypto.EncString            `msgpack:"vault_key"`
	PrivateKey crypto.EncString            `msgpack:"private_key"`
	PublicKey  []byte                      `msgpack:"public_key"`
	OrgKeys    map[string]crypto.EncString `msgpack:"org_keys,omitempty"`
}

func (a *Account) clone() *Account {
	c := *a
	c.PublicKey = append([]byte(nil), a.PublicKey...)
	c.OrgKeys = maps.Clone(a.OrgKeys)
	return &c
}

// Store is the secure local cache of wrapped key material.
type Store struct {
	repo storage.Repository
}

func NewStore(repo storage.Repository) *Store {
	return &Store{repo: repo}
}

// Load returns the account for userID or an error wrapping
// storage.ErrNotFound.
func (s *Store) Load(userID string) (*Account, error) {
	env, err := s.repo.Get(storeNamespace, recordTypeAccount, userID)
	if err != nil {
		return nil, err
	}
	var a Account
	if err := storage.Decode(env, &a); err != nil {
		return nil, fmt.Errorf("decoding account %s: %w", userID, err)
	}
	return &a, nil
}

func (s *Store) Save(a *Account) error {
	env, err := storage.Encode(a)
	if err != nil {
		return err
	}
	return s.repo.Put(storeNamespace, recordTypeAccount, a.UserID, env)
}

func (s *Store) Delete(userID string) error {
	return s.repo.Delete(storeNamespace, recordTypeAccount, userID)
}

// Accounts lists the user ids with stored key material.
func (s *Store) Accounts() ([]string, error) {
	return s.repo.List(storeNamespace, recordTypeAccount)
}
