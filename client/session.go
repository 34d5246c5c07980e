package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/keyring"
	"github.com/jmcleod/ironkeep/transport"
)

var (
	// ErrAccountExists is returned by Register when the server already
	// knows the email.
	ErrAccountExists = errors.New("client: account already exists")
	// ErrNotLoggedIn is returned by operations that need a server session.
	ErrNotLoggedIn = errors.New("client: not logged in")
)

// RequestError is a failed account API call.
type RequestError struct {
	Op     string
	Status transport.Status
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func requestError(op string, status transport.Status, err error) error {
	return &RequestError{Op: op, Status: status, Err: err}
}

// Register creates a new account on the server and signs in to it. The
// returned session is Unlocked.
func (c *Client) Register(ctx context.Context, email, password string) (*keyring.Registration, error) {
	if err := c.switchUser(ctx, ""); err != nil {
		return nil, err
	}
	reg, err := c.keys.Register(ctx, email, password, c.cfg.KDF)
	if err != nil {
		return nil, err
	}
	res := c.api.Register(ctx, transport.RegisterRequest{
		UserID:     reg.UserID,
		Email:      reg.Email,
		KDF:        reg.KDF,
		KeyHash:    reg.KeyHash,
		Key:        reg.VaultKey,
		PrivateKey: reg.PrivateKey,
		PublicKey:  util.B64Encode(reg.PublicKey),
	})
	switch res.Status {
	case transport.OK:
	case transport.BadData:
		c.discardRegistration(ctx, reg.UserID)
		return nil, fmt.Errorf("%w: %v", ErrAccountExists, res.Err)
	default:
		c.discardRegistration(ctx, reg.UserID)
		return nil, requestError("register", res.Status, res.Err)
	}
	c.logger.Info("account created on server", slog.String("user_id", reg.UserID))

	if err := c.Login(ctx, email, password); err != nil {
		return nil, err
	}
	return reg, nil
}

// discardRegistration drops the local keys of a registration the server
// did not accept.
func (c *Client) discardRegistration(ctx context.Context, userID string) {
	if err := c.keys.Logout(ctx); err != nil {
		c.logger.Warn("discarding rejected registration failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

// Login authenticates against the server, stores the returned key
// material and unlocks it. Signing in as a different user first clears the
// previous user's data.
func (c *Client) Login(ctx context.Context, email, password string) error {
	pre := c.api.Prelogin(ctx, email)
	if pre.Status != transport.OK {
		return requestError("prelogin", pre.Status, pre.Err)
	}
	keyHash, err := deriveKeyHash(email, password, pre.Value)
	if err != nil {
		return err
	}

	res := c.api.Login(ctx, transport.LoginRequest{Email: util.NormalizeEmail(email), KeyHash: keyHash})
	switch res.Status {
	case transport.OK:
	case transport.Unauthorized:
		c.recorder.RecordUnlock(false)
		return keyring.ErrInvalidPassword
	default:
		return requestError("login", res.Status, res.Err)
	}
	lr := res.Value
	pub, err := util.B64Decode(lr.PublicKey)
	if err != nil {
		return fmt.Errorf("decoding public key: %w", err)
	}

	if err := c.switchUser(ctx, lr.UserID); err != nil {
		return err
	}
	c.tokens.Set(lr.AccessToken)
	if err := c.keys.Import(&keyring.Account{
		UserID:     lr.UserID,
		Email:      email,
		KDF:        lr.KDF,
		KeyHash:    keyHash,
		VaultKey:   lr.Key,
		PrivateKey: lr.PrivateKey,
		PublicKey:  pub,
		OrgKeys:    lr.OrganizationKeys,
	}); err != nil {
		c.tokens.Clear()
		return err
	}
	if err := c.Unlock(ctx, password); err != nil {
		return err
	}
	c.logger.Info("logged in", slog.String("user_id", lr.UserID))
	return nil
}

// switchUser logs the current user out when userID differs from it. An
// empty userID always logs out.
func (c *Client) switchUser(ctx context.Context, userID string) error {
	cur := c.keys.Snapshot()
	if cur.State == keyring.LoggedOut || (userID != "" && cur.UserID == userID) {
		return nil
	}
	return c.keys.Logout(ctx)
}

func deriveKeyHash(email, password string, kdf crypto.KDFConfig) (string, error) {
	svc := crypto.Default()
	masterKey, err := svc.MakeMasterKey(password, email, kdf)
	if err != nil {
		return "", fmt.Errorf("deriving master key: %w", err)
	}
	defer util.WipeBytes(masterKey)
	return svc.HashMasterKey(masterKey, password)
}

// Restore loads the locally stored account of userID without contacting
// the server. Unlock then opens the cached vault offline; Sync still needs
// a Login.
func (c *Client) Restore(userID string) error {
	return c.keys.Load(userID)
}

// Unlock opens the stored keys with password and decrypts the cache.
func (c *Client) Unlock(ctx context.Context, password string) error {
	if err := c.keys.Unlock(ctx, password); err != nil {
		return err
	}
	return c.engine.DecryptCache(ctx)
}

// Lock drops every key and decrypted view. Cached records stay.
func (c *Client) Lock() {
	c.keys.Lock()
}

// Logout ends the session and deletes every local record of the user.
func (c *Client) Logout(ctx context.Context) error {
	return c.keys.Logout(ctx)
}

// ChangePassword rotates the master password. The server has to accept
// the change before anything is written locally.
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	if !c.hasToken() {
		return ErrNotLoggedIn
	}
	committer := keyring.PasswordCommitterFunc(func(ctx context.Context, ch keyring.PasswordChange) error {
		res := c.api.PostPassword(ctx, transport.PasswordRequest{
			MasterPasswordHash:    ch.CurrentKeyHash,
			NewMasterPasswordHash: ch.NewKeyHash,
			Key:                   ch.VaultKey,
			PrivateKey:            ch.PrivateKey,
		})
		if res.Status != transport.OK {
			return requestError("change password", res.Status, res.Err)
		}
		return nil
	})
	return c.keys.RotateMasterPassword(ctx, newPassword, committer)
}

// Fingerprint returns the account public key fingerprint.
func (c *Client) Fingerprint() (crypto.Fingerprint, error) {
	return c.keys.Fingerprint()
}
