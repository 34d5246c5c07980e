package keyring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/internal/observe"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/key"
	"github.com/jmcleod/ironkeep/metrics"
)

// Registration is what a new account submits to the server. Everything in
// it is either wrapped or public.
type Registration struct {
	UserID     string
	Email      string
	KDF        crypto.KDFConfig
	KeyHash    string
	VaultKey   crypto.EncString
	PrivateKey crypto.EncString
	PublicKey  []byte
}

// PasswordChange is the single request that commits a master password
// rotation.
type PasswordChange struct {
	CurrentKeyHash string
	NewKeyHash     string
	VaultKey       crypto.EncString
	PrivateKey     crypto.EncString
}

// PasswordCommitter sends a PasswordChange to the server.
type PasswordCommitter interface {
	CommitPassword(ctx context.Context, change PasswordChange) error
}

// PasswordCommitterFunc adapts a function to PasswordCommitter.
type PasswordCommitterFunc func(ctx context.Context, change PasswordChange) error

func (f PasswordCommitterFunc) CommitPassword(ctx context.Context, change PasswordChange) error {
	return f(ctx, change)
}

// Manager owns the session state machine and the unwrapped keys.
type Manager struct {
	svc         *crypto.Service
	store       *Store
	bus         *events.Bus
	logger      *slog.Logger
	recorder    metrics.Recorder
	maxAttempts int
	rsaBits     int

	// opMu serializes operations that derive keys.
	opMu sync.Mutex

	mu         sync.RWMutex
	account    *Account
	vaultKey   *memguard.Enclave
	privateKey *memguard.Enclave
	orgKeys    map[string]*memguard.Enclave
	failures   int
	// lockGen changes on every Lock and logout, so an Unlock that was
	// deriving keys meanwhile does not install them.
	lockGen uint64

	state       *observe.Value[Snapshot]
	unsubscribe func()
}

// NewManager returns a logged-out manager backed by store.
func NewManager(store *Store, opts ...Option) *Manager {
	m := &Manager{
		svc:         crypto.Default(),
		store:       store,
		logger:      slog.Default(),
		recorder:    metrics.Noop{},
		maxAttempts: DefaultMaxUnlockAttempts,
		rsaBits:     DefaultRSABits,
		state:       observe.New(Snapshot{State: LoggedOut}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus != nil {
		m.unsubscribe = events.On(m.bus, func(e events.ForceLogout) {
			m.forceLogout(e.Reason, false)
		})
	}
	return m
}

// Close locks the session and detaches from the event bus.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.Lock()
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	return m.state.Get().clone()
}

// Subscribe calls fn after every state change.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return m.state.Subscribe(fn)
}

// Register creates the key hierarchy for a new account: master key, vault
// key and RSA key pair. The wrapped forms are persisted and returned for
// submission. The session is left Locked.
func (m *Manager) Register(ctx context.Context, email, password string, kdf crypto.KDFConfig) (*Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := kdf.Validate(); err != nil {
		return nil, err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	userID := uuid.New()
	email = util.NormalizeEmail(email)

	masterKey, err := m.svc.MakeMasterKey(password, email, kdf)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	defer util.WipeBytes(masterKey)
	keyHash, err := m.svc.HashMasterKey(masterKey, password)
	if err != nil {
		return nil, fmt.Errorf("hashing master key: %w", err)
	}
	stretched, err := m.svc.StretchKey(masterKey)
	if err != nil {
		return nil, fmt.Errorf("stretching master key: %w", err)
	}
	stretchedKey := key.FromSymmetric(userID, key.Stretched, stretched)
	defer stretchedKey.Wipe()

	vaultKey, err := key.New(key.Vault)
	if err != nil {
		return nil, err
	}
	defer vaultKey.Wipe()
	wrappedVault, err := vaultKey.EncryptKey(stretchedKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping vault key: %w", err)
	}

	priv, pub, err := key.GenerateKeyPair(userID, m.rsaBits)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	defer priv.Wipe()
	wrappedPriv, err := priv.EncryptKey(vaultKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping private key: %w", err)
	}

	acct := &Account{
		UserID:     userID,
		Email:      email,
		KDF:        kdf,
		KeyHash:    keyHash,
		VaultKey:   wrappedVault.Wrapped(),
		PrivateKey: wrappedPriv.Wrapped(),
		PublicKey:  pub.DER(),
	}
	if err := m.store.Save(acct); err != nil {
		return nil, fmt.Errorf("saving account: %w", err)
	}
	m.setAccount(acct)

	m.logger.Info("account registered", slog.String("user_id", userID), slog.String("kdf", kdf.Type.String()))
	return &Registration{
		UserID:     acct.UserID,
		Email:      acct.Email,
		KDF:        acct.KDF,
		KeyHash:    acct.KeyHash,
		VaultKey:   acct.VaultKey,
		PrivateKey: acct.PrivateKey,
		PublicKey:  pub.DER(),
	}, nil
}

// Import stores key material received from the server at login and leaves
// the session Locked.
func (m *Manager) Import(acct *Account) error {
	if acct == nil || acct.UserID == "" {
		return ErrNoAccount
	}
	if err := acct.KDF.Validate(); err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	a := acct.clone()
	a.Email = util.NormalizeEmail(a.Email)
	if err := m.store.Save(a); err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	m.setAccount(a)
	return nil
}

// Load restores a previously stored account. The session is left Locked.
func (m *Manager) Load(userID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	acct, err := m.store.Load(userID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	m.setAccount(acct)
	return nil
}

func (m *Manager) setAccount(acct *Account) {
	m.mu.Lock()
	m.wipeKeysLocked()
	m.account = acct
	m.failures = 0
	snap := Snapshot{State: Locked, UserID: acct.UserID, Email: acct.Email}
	m.mu.Unlock()
	m.publishState(snap)
}

// Unlock derives the master key from password and opens the vault and
// private keys. Any mismatch or integrity failure leaves the session
// LockedInvalid with ErrInvalidPassword and no key material resident.
func (m *Manager) Unlock(ctx context.Context, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	acct := m.account
	switch {
	case acct == nil:
		m.mu.Unlock()
		return ErrNoAccount
	case m.vaultKey != nil:
		m.mu.Unlock()
		return nil
	}
	acct = acct.clone()
	gen := m.lockGen
	snap := m.snapshotLocked(Unlocking)
	m.mu.Unlock()
	m.publishState(snap)

	keys, err := m.openKeys(acct, password)
	if err != nil {
		m.logger.Warn("unlock failed", slog.String("user_id", acct.UserID), slog.Any("error", err))
		return m.unlockFailed()
	}

	m.mu.Lock()
	switch {
	case m.account == nil || m.account.UserID != acct.UserID:
		m.mu.Unlock()
		return ErrNoAccount
	case m.lockGen != gen:
		m.mu.Unlock()
		m.logger.Info("unlock superseded by lock", slog.String("user_id", acct.UserID))
		return ErrLocked
	}
	m.vaultKey = keys.vault
	m.privateKey = keys.private
	m.orgKeys = keys.orgs
	m.failures = 0
	snap = m.snapshotLocked(Unlocked)
	m.mu.Unlock()

	m.recorder.RecordUnlock(true)
	m.publishState(snap)
	m.logger.Info("vault unlocked", slog.String("user_id", acct.UserID))
	return nil
}

type openedKeys struct {
	vault   *memguard.Enclave
	private *memguard.Enclave
	orgs    map[string]*memguard.Enclave
}

func (m *Manager) openKeys(acct *Account, password string) (*openedKeys, error) {
	masterKey, err := m.svc.MakeMasterKey(password, acct.Email, acct.KDF)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	defer util.WipeBytes(masterKey)

	keyHash, err := m.svc.HashMasterKey(masterKey, password)
	if err != nil {
		return nil, fmt.Errorf("hashing master key: %w", err)
	}
	ok, err := m.svc.Compare([]byte(keyHash), []byte(acct.KeyHash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("key hash mismatch")
	}

	stretched, err := m.svc.StretchKey(masterKey)
	if err != nil {
		return nil, fmt.Errorf("stretching master key: %w", err)
	}
	stretchedKey := key.FromSymmetric(acct.UserID, key.Stretched, stretched)
	defer stretchedKey.Wipe()

	vaultKey, err := key.FromWire(acct.UserID, "", key.Vault, acct.VaultKey).Unwrap(stretchedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping vault key: %w", err)
	}
	defer vaultKey.Wipe()

	dec, err := key.FromWire(acct.UserID, "", key.Private, acct.PrivateKey).Decrypter(vaultKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping private key: %w", err)
	}
	priv := dec.(*key.PrivateKey)
	defer priv.Wipe()
	if _, err := util.ParseRSAPrivateKey(priv.DER()); err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	orgs := make(map[string]*memguard.Enclave, len(acct.OrgKeys))
	for orgID, wrapped := range acct.OrgKeys {
		e, err := m.openOrgKey(orgID, wrapped, priv)
		if err != nil {
			m.logger.Warn("organization key unavailable", slog.String("org_id", orgID), slog.Any("error", err))
			continue
		}
		orgs[orgID] = e
	}

	return &openedKeys{
		vault:   memguard.NewEnclave(vaultKey.Symmetric().Bytes()),
		private: memguard.NewEnclave(util.CopyBytes(priv.DER())),
		orgs:    orgs,
	}, nil
}

func (m *Manager) openOrgKey(orgID string, wrapped crypto.EncString, priv *key.PrivateKey) (*memguard.Enclave, error) {
	orgKey, err := key.FromWire(orgID, "", key.Organization, wrapped).Unwrap(priv)
	if err != nil {
		return nil, err
	}
	defer orgKey.Wipe()
	return memguard.NewEnclave(orgKey.Symmetric().Bytes()), nil
}

func (m *Manager) unlockFailed() error {
	m.recorder.RecordUnlock(false)

	m.mu.Lock()
	m.wipeKeysLocked()
	m.failures++
	exceeded := m.maxAttempts > 0 && m.failures >= m.maxAttempts
	snap := m.snapshotLocked(LockedInvalid)
	m.mu.Unlock()

	if exceeded {
		m.forceLogout("too many failed unlock attempts", true)
		return ErrInvalidPassword
	}
	m.publishState(snap)
	return ErrInvalidPassword
}

// Lock drops every unwrapped key. The stored account is kept.
func (m *Manager) Lock() {
	m.mu.Lock()
	if m.account == nil {
		m.mu.Unlock()
		return
	}
	m.wipeKeysLocked()
	m.lockGen++
	snap := m.snapshotLocked(Locked)
	m.mu.Unlock()
	m.publishState(snap)
}

// Logout drops every key, deletes the stored account and publishes
// ClearAllData so other components drop their state for the user.
func (m *Manager) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.logout()
}

func (m *Manager) logout() error {
	m.mu.Lock()
	acct := m.account
	m.wipeKeysLocked()
	m.lockGen++
	m.account = nil
	m.failures = 0
	m.mu.Unlock()

	m.publishState(Snapshot{State: LoggedOut})
	if acct == nil {
		return nil
	}
	var err error
	if derr := m.store.Delete(acct.UserID); derr != nil {
		err = fmt.Errorf("deleting account: %w", derr)
	}
	if m.bus != nil {
		m.bus.Publish(events.ClearAllData{UserID: acct.UserID})
	}
	m.logger.Info("logged out", slog.String("user_id", acct.UserID))
	return err
}

// forceLogout logs out unless already logged out. When publish is set the
// ForceLogout event is emitted for the rest of the client.
func (m *Manager) forceLogout(reason string, publish bool) {
	m.mu.RLock()
	active := m.account != nil
	m.mu.RUnlock()
	if !active {
		return
	}
	m.logger.Warn("forced logout", slog.String("reason", reason))
	if err := m.logout(); err != nil {
		m.logger.Warn("logout cleanup failed", slog.Any("error", err))
	}
	if publish && m.bus != nil {
		m.bus.Publish(events.ForceLogout{Reason: reason})
	}
}

// RotateMasterPassword re-wraps the vault key under a key derived from
// newPassword. The re-wrapped key is verified before anything is sent, and
// the local cache only changes after committer accepts the change.
func (m *Manager) RotateMasterPassword(ctx context.Context, newPassword string, committer PasswordCommitter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	if m.account == nil || m.vaultKey == nil {
		m.mu.RUnlock()
		return ErrLocked
	}
	acct := m.account.clone()
	enclave := m.vaultKey
	m.mu.RUnlock()

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening vault key: %w", err)
	}
	defer buf.Destroy()
	vaultKey, err := key.FromBytes(acct.UserID, key.Vault, buf.Bytes())
	if err != nil {
		return err
	}
	defer vaultKey.Wipe()

	masterKey, err := m.svc.MakeMasterKey(newPassword, acct.Email, acct.KDF)
	if err != nil {
		return fmt.Errorf("deriving master key: %w", err)
	}
	defer util.WipeBytes(masterKey)
	newHash, err := m.svc.HashMasterKey(masterKey, newPassword)
	if err != nil {
		return fmt.Errorf("hashing master key: %w", err)
	}
	stretched, err := m.svc.StretchKey(masterKey)
	if err != nil {
		return fmt.Errorf("stretching master key: %w", err)
	}
	stretchedKey := key.FromSymmetric(acct.UserID, key.Stretched, stretched)
	defer stretchedKey.Wipe()

	wrapped, err := vaultKey.EncryptKey(stretchedKey)
	if err != nil {
		return fmt.Errorf("wrapping vault key: %w", err)
	}
	if err := m.verifyRewrap(wrapped, stretchedKey, vaultKey); err != nil {
		return err
	}

	change := PasswordChange{
		CurrentKeyHash: acct.KeyHash,
		NewKeyHash:     newHash,
		VaultKey:       wrapped.Wrapped(),
		PrivateKey:     acct.PrivateKey,
	}
	if err := committer.CommitPassword(ctx, change); err != nil {
		return fmt.Errorf("committing password change: %w", err)
	}

	acct.KeyHash = newHash
	acct.VaultKey = change.VaultKey
	if err := m.store.Save(acct); err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	m.mu.Lock()
	if m.account != nil && m.account.UserID == acct.UserID {
		m.account = acct
	}
	m.mu.Unlock()
	m.logger.Info("master password rotated", slog.String("user_id", acct.UserID))
	return nil
}

func (m *Manager) verifyRewrap(wrapped key.EncryptedKey, stretched, want key.Key) error {
	got, err := key.FromWire(want.ID(), "", key.Vault, wrapped.Wrapped()).Unwrap(stretched)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRotationVerify, err)
	}
	defer got.Wipe()
	a, b := got.Symmetric().Bytes(), want.Symmetric().Bytes()
	defer util.WipeBytes(a)
	defer util.WipeBytes(b)
	ok, err := m.svc.Compare(a, b)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRotationVerify
	}
	return nil
}

// Fingerprint derives the fingerprint of the user's own public key.
func (m *Manager) Fingerprint() (crypto.Fingerprint, error) {
	m.mu.RLock()
	acct := m.account
	m.mu.RUnlock()
	if acct == nil {
		return nil, ErrNoAccount
	}
	return m.svc.Fingerprint(acct.UserID, acct.PublicKey)
}

// SetOrganizationKeys replaces the organization keys with the given wrapped
// forms, each opened with the user's private key. Keys that fail to open are
// reported and skipped; the rest are loaded.
func (m *Manager) SetOrganizationKeys(wrapped map[string]crypto.EncString) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	enclave := m.privateKey
	var userID string
	if m.account != nil {
		userID = m.account.UserID
	}
	m.mu.RUnlock()
	if enclave == nil {
		return ErrLocked
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening private key: %w", err)
	}
	defer buf.Destroy()
	priv := key.NewPrivateKey(userID, buf.Bytes())
	defer priv.Wipe()

	var errs []error
	orgs := make(map[string]*memguard.Enclave, len(wrapped))
	stored := make(map[string]crypto.EncString, len(wrapped))
	for orgID, es := range wrapped {
		e, err := m.openOrgKey(orgID, es, priv)
		if err != nil {
			errs = append(errs, fmt.Errorf("organization %s: %w", orgID, err))
			continue
		}
		orgs[orgID] = e
		stored[orgID] = es
	}

	m.mu.Lock()
	if m.account == nil || m.account.UserID != userID || m.vaultKey == nil {
		m.mu.Unlock()
		return ErrLocked
	}
	m.orgKeys = orgs
	acct := m.account.clone()
	acct.OrgKeys = stored
	m.account = acct
	snap := m.snapshotLocked(Unlocked)
	m.mu.Unlock()

	if err := m.store.Save(acct); err != nil {
		errs = append(errs, fmt.Errorf("saving account: %w", err))
	}
	m.publishState(snap)
	return errors.Join(errs...)
}

// WithCipherKey runs fn with the vault key, or the organization key when
// orgID is set. The key is wiped when fn returns and must not be retained.
func (m *Manager) WithCipherKey(orgID string, fn func(*crypto.SymmetricKey) error) error {
	m.mu.RLock()
	enclave := m.vaultKey
	if orgID != "" && enclave != nil {
		enclave = m.orgKeys[orgID]
	}
	m.mu.RUnlock()
	if enclave == nil {
		if orgID != "" {
			return fmt.Errorf("organization %s: %w", orgID, ErrLocked)
		}
		return ErrLocked
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key: %w", err)
	}
	defer buf.Destroy()
	sym, err := crypto.NewSymmetricKey(buf.Bytes())
	if err != nil {
		return err
	}
	defer sym.Wipe()
	return fn(sym)
}

func (m *Manager) wipeKeysLocked() {
	m.vaultKey = nil
	m.privateKey = nil
	m.orgKeys = nil
}

func (m *Manager) snapshotLocked(state State) Snapshot {
	s := Snapshot{State: state, FailedAttempts: m.failures}
	if m.account != nil {
		s.UserID = m.account.UserID
		s.Email = m.account.Email
	}
	s.OrganizationIDs = slices.Sorted(maps.Keys(m.orgKeys))
	return s
}

func (m *Manager) publishState(s Snapshot) {
	m.state.Update(func(Snapshot) Snapshot { return s })
}
