package vault

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/crypto"
)

type staticKeys struct {
	mu   sync.Mutex
	keys map[string]*crypto.SymmetricKey
}

func (s *staticKeys) WithCipherKey(orgID string, fn func(*crypto.SymmetricKey) error) error {
	s.mu.Lock()
	k, ok := s.keys[orgID]
	s.mu.Unlock()
	if !ok {
		return errors.New("locked")
	}
	return fn(k)
}

func newKey(t *testing.T) *crypto.SymmetricKey {
	t.Helper()
	k, err := crypto.Default().GenerateSymmetricKey()
	require.NoError(t, err)
	return k
}

func loginView(i int) *CipherView {
	return &CipherView{
		ID:           fmt.Sprintf("cipher-%04d", i),
		Type:         TypeLogin,
		RevisionDate: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Name:         fmt.Sprintf("site %d", i),
		Notes:        "notes",
		Login: &LoginView{
			Username: "alice@example.com",
			Password: fmt.Sprintf("hunter%d", i),
			URIs:     []URIView{{URI: "https://example.com"}},
		},
	}
}

func encrypted(t *testing.T, v *CipherView, key *crypto.SymmetricKey) *CipherRecord {
	t.Helper()
	rec, err := EncryptView(v, key)
	require.NoError(t, err)
	return rec
}

// corruptMAC flips one MAC bit without touching the caller's slice.
func corruptMAC(es crypto.EncString) crypto.EncString {
	mac := append([]byte(nil), es.MAC...)
	mac[0] ^= 0x01
	es.MAC = mac
	return es
}
