package keyring

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/key"
	"github.com/jmcleod/ironkeep/storage"
	"github.com/jmcleod/ironkeep/storage/memory"
)

const password = "correct horse battery staple"

func testKDF() crypto.KDFConfig {
	return crypto.KDFConfig{Type: crypto.KDFTypePBKDF2, Iterations: crypto.MinPBKDF2Iterations}
}

func newManager(t *testing.T, opts ...Option) (*Manager, *Store) {
	t.Helper()
	store := NewStore(memory.NewRepository())
	m := NewManager(store, opts...)
	t.Cleanup(m.Close)
	return m, store
}

func register(t *testing.T, m *Manager) *Registration {
	t.Helper()
	reg, err := m.Register(t.Context(), " Alice@Example.com ", password, testKDF())
	require.NoError(t, err)
	return reg
}

func TestRegisterAndUnlock(t *testing.T) {
	m, store := newManager(t)
	reg := register(t, m)

	assert.Equal(t, "alice@example.com", reg.Email)
	assert.Equal(t, crypto.EncTypeAesCbc256HmacSha256B64, reg.VaultKey.Type)
	assert.Equal(t, crypto.EncTypeAesCbc256HmacSha256B64, reg.PrivateKey.Type)
	assert.NotEmpty(t, reg.PublicKey)
	assert.Equal(t, Locked, m.Snapshot().State)

	stored, err := store.Load(reg.UserID)
	require.NoError(t, err)
	assert.Equal(t, reg.KeyHash, stored.KeyHash)
	assert.Equal(t, reg.VaultKey.String(), stored.VaultKey.String())

	err = m.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil })
	assert.ErrorIs(t, err, ErrLocked)

	var states []State
	unsub := m.Subscribe(func(s Snapshot) { states = append(states, s.State) })
	require.NoError(t, m.Unlock(t.Context(), password))
	unsub()
	assert.Equal(t, []State{Unlocking, Unlocked}, states)

	var es crypto.EncString
	err = m.WithCipherKey("", func(k *crypto.SymmetricKey) error {
		var err error
		es, err = crypto.Default().EncryptToEncString([]byte("secret"), k)
		return err
	})
	require.NoError(t, err)
	err = m.WithCipherKey("", func(k *crypto.SymmetricKey) error {
		pt, err := crypto.Default().DecryptEncString(es, k)
		if err == nil && string(pt) != "secret" {
			err = errors.New("round trip mismatch")
		}
		return err
	})
	require.NoError(t, err)

	require.NoError(t, m.Unlock(t.Context(), password), "unlocking twice is a no-op")

	m.Lock()
	assert.Equal(t, Locked, m.Snapshot().State)
	assert.ErrorIs(t, m.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil }), ErrLocked)
}

func TestLockDuringUnlockWins(t *testing.T) {
	m, _ := newManager(t)
	register(t, m)

	var once sync.Once
	m.Subscribe(func(s Snapshot) {
		if s.State != Unlocking {
			return
		}
		once.Do(func() {
			done := make(chan struct{})
			go func() {
				m.Lock()
				close(done)
			}()
			<-done
		})
	})

	assert.ErrorIs(t, m.Unlock(t.Context(), password), ErrLocked)
	assert.Equal(t, Locked, m.Snapshot().State)
	err := m.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil })
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, m.Unlock(t.Context(), password), "a later unlock still works")
	assert.Equal(t, Unlocked, m.Snapshot().State)
}

func TestUnlockWrongPassword(t *testing.T) {
	m, _ := newManager(t)
	register(t, m)

	err := m.Unlock(t.Context(), "wrong")
	require.ErrorIs(t, err, ErrInvalidPassword)
	snap := m.Snapshot()
	assert.Equal(t, LockedInvalid, snap.State)
	assert.Equal(t, 1, snap.FailedAttempts)
	assert.ErrorIs(t, m.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil }), ErrLocked)

	require.NoError(t, m.Unlock(t.Context(), password))
	assert.Equal(t, 0, m.Snapshot().FailedAttempts)
}

func TestUnlockCorruptedVault(t *testing.T) {
	m, store := newManager(t)
	reg := register(t, m)

	acct, err := store.Load(reg.UserID)
	require.NoError(t, err)
	mac := append([]byte(nil), acct.VaultKey.MAC...)
	mac[5] ^= 0x80
	acct.VaultKey.MAC = mac
	require.NoError(t, m.Import(acct))

	err = m.Unlock(t.Context(), password)
	assert.ErrorIs(t, err, ErrInvalidPassword, "a corrupted vault looks like a wrong password")
	assert.Equal(t, LockedInvalid, m.Snapshot().State)
	assert.ErrorIs(t, m.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil }), ErrLocked)
}

func TestUnlockAttemptLimit(t *testing.T) {
	bus := events.NewBus()
	var forced []events.ForceLogout
	var cleared []events.ClearAllData
	events.On(bus, func(e events.ForceLogout) { forced = append(forced, e) })
	events.On(bus, func(e events.ClearAllData) { cleared = append(cleared, e) })

	m, store := newManager(t, WithEventBus(bus), WithMaxUnlockAttempts(3))
	reg := register(t, m)

	for range 2 {
		assert.ErrorIs(t, m.Unlock(t.Context(), "nope"), ErrInvalidPassword)
	}
	assert.Empty(t, forced)
	assert.ErrorIs(t, m.Unlock(t.Context(), "nope"), ErrInvalidPassword)

	assert.Equal(t, LoggedOut, m.Snapshot().State)
	require.Len(t, forced, 1)
	require.Len(t, cleared, 1)
	assert.Equal(t, reg.UserID, cleared[0].UserID)

	_, err := store.Load(reg.UserID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, m.Unlock(t.Context(), password), ErrNoAccount)
}

func TestForceLogoutEvent(t *testing.T) {
	bus := events.NewBus()
	m, _ := newManager(t, WithEventBus(bus))
	register(t, m)
	require.NoError(t, m.Unlock(t.Context(), password))

	bus.Publish(events.ForceLogout{Reason: "unauthorized"})
	assert.Equal(t, LoggedOut, m.Snapshot().State)
	assert.ErrorIs(t, m.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil }), ErrLocked)
}

func TestLogout(t *testing.T) {
	m, store := newManager(t)
	reg := register(t, m)
	require.NoError(t, m.Unlock(t.Context(), password))

	require.NoError(t, m.Logout(t.Context()))
	assert.Equal(t, LoggedOut, m.Snapshot().State)
	ids, err := store.Accounts()
	require.NoError(t, err)
	assert.NotContains(t, ids, reg.UserID)
	require.NoError(t, m.Logout(t.Context()), "second logout is a no-op")
}

func TestRotateMasterPassword(t *testing.T) {
	m, store := newManager(t)
	reg := register(t, m)

	noop := PasswordCommitterFunc(func(context.Context, PasswordChange) error { return nil })
	assert.ErrorIs(t, m.RotateMasterPassword(t.Context(), "new", noop), ErrLocked)

	require.NoError(t, m.Unlock(t.Context(), password))

	t.Run("CommitFails", func(t *testing.T) {
		failing := PasswordCommitterFunc(func(context.Context, PasswordChange) error {
			return errors.New("server rejected")
		})
		require.Error(t, m.RotateMasterPassword(t.Context(), "new password", failing))
		stored, err := store.Load(reg.UserID)
		require.NoError(t, err)
		assert.Equal(t, reg.KeyHash, stored.KeyHash, "local cache unchanged")
	})

	var commits []PasswordChange
	committer := PasswordCommitterFunc(func(_ context.Context, c PasswordChange) error {
		commits = append(commits, c)
		return nil
	})
	require.NoError(t, m.RotateMasterPassword(t.Context(), "new password", committer))
	require.Len(t, commits, 1)
	c := commits[0]
	assert.Equal(t, reg.KeyHash, c.CurrentKeyHash)
	assert.NotEqual(t, reg.KeyHash, c.NewKeyHash)
	assert.Equal(t, reg.PrivateKey.String(), c.PrivateKey.String(), "private key stays under the vault key")
	assert.NotEqual(t, reg.VaultKey.String(), c.VaultKey.String())

	m.Lock()
	assert.ErrorIs(t, m.Unlock(t.Context(), password), ErrInvalidPassword)
	require.NoError(t, m.Unlock(t.Context(), "new password"))

	// The vault key itself is unchanged, so old ciphertext still opens.
	fresh := NewManager(NewStore(memory.NewRepository()))
	t.Cleanup(fresh.Close)
	require.NoError(t, fresh.Import(&Account{
		UserID: reg.UserID, Email: reg.Email, KDF: reg.KDF, KeyHash: reg.KeyHash,
		VaultKey: reg.VaultKey, PrivateKey: reg.PrivateKey, PublicKey: reg.PublicKey,
	}))
	require.NoError(t, fresh.Unlock(t.Context(), password))
	var oldKey, newKey []byte
	require.NoError(t, fresh.WithCipherKey("", func(k *crypto.SymmetricKey) error { oldKey = k.Bytes(); return nil }))
	require.NoError(t, m.WithCipherKey("", func(k *crypto.SymmetricKey) error { newKey = k.Bytes(); return nil }))
	assert.True(t, bytes.Equal(oldKey, newKey))
}

func TestOrganizationKeys(t *testing.T) {
	m, _ := newManager(t)
	reg := register(t, m)

	orgKey, err := key.New(key.Organization)
	require.NoError(t, err)
	wrapped, err := orgKey.EncryptKey(key.NewPublicKey(reg.UserID, reg.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, crypto.EncTypeRsa2048OaepSha1B64, wrapped.Wrapped().Type)

	orgs := map[string]crypto.EncString{"org-1": wrapped.Wrapped()}
	assert.ErrorIs(t, m.SetOrganizationKeys(orgs), ErrLocked)

	require.NoError(t, m.Unlock(t.Context(), password))
	require.NoError(t, m.SetOrganizationKeys(orgs))
	assert.Equal(t, []string{"org-1"}, m.Snapshot().OrganizationIDs)

	check := func() {
		t.Helper()
		err := m.WithCipherKey("org-1", func(k *crypto.SymmetricKey) error {
			if !bytes.Equal(k.Bytes(), orgKey.Symmetric().Bytes()) {
				return errors.New("org key mismatch")
			}
			return nil
		})
		require.NoError(t, err)
	}
	check()
	assert.ErrorIs(t, m.WithCipherKey("org-2", func(*crypto.SymmetricKey) error { return nil }), ErrLocked)

	// Organization keys are restored from the stored account at unlock.
	m.Lock()
	require.NoError(t, m.Unlock(t.Context(), password))
	check()

	t.Run("BadWrapping", func(t *testing.T) {
		bad := wrapped.Wrapped()
		bad.Data = append([]byte(nil), bad.Data...)
		bad.Data[0] ^= 0xff
		err := m.SetOrganizationKeys(map[string]crypto.EncString{"org-1": wrapped.Wrapped(), "org-bad": bad})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "org-bad")
		assert.Equal(t, []string{"org-1"}, m.Snapshot().OrganizationIDs)
	})
}

func TestFingerprint(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Fingerprint()
	assert.ErrorIs(t, err, ErrNoAccount)

	reg := register(t, m)
	fp, err := m.Fingerprint()
	require.NoError(t, err)
	want, err := crypto.Default().Fingerprint(reg.UserID, reg.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, want, fp)
	assert.Len(t, fp.Digits(), 23)
}

func TestLoad(t *testing.T) {
	repo := memory.NewRepository()
	first := NewManager(NewStore(repo))
	reg := register(t, first)
	first.Close()

	second := NewManager(NewStore(repo))
	t.Cleanup(second.Close)
	require.NoError(t, second.Load(reg.UserID))
	require.NoError(t, second.Unlock(t.Context(), password))
	assert.Equal(t, reg.UserID, second.Snapshot().UserID)

	assert.ErrorIs(t, second.Load("nobody"), storage.ErrNotFound)
}

func TestRegisterRejectsWeakKDF(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Register(t.Context(), "a@b.c", password, crypto.KDFConfig{Type: crypto.KDFTypePBKDF2, Iterations: 1})
	assert.Error(t, err)
	assert.Equal(t, LoggedOut, m.Snapshot().State)
}
