// Package transport is the client side of the vault server API. Every call
// returns a tagged Result so the sync engine branches on outcome classes and
// never sees HTTP status codes.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/vault"
)

// Status classifies the outcome of a call.
type Status int

const (
	OK Status = iota
	Unauthorized
	BadData
	NotFound
	ServerError
	NetworkError
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Unauthorized:
		return "unauthorized"
	case BadData:
		return "bad_data"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	case NetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one call. Value is only meaningful when Status
// is OK; Err describes every other status.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Ok returns a successful result.
func Ok[T any](v T) Result[T] {
	return Result[T]{Status: OK, Value: v}
}

// Fail returns a result with a non-OK status.
func Fail[T any](status Status, err error) Result[T] {
	return Result[T]{Status: status, Err: err}
}

// Empty is the value of calls that return nothing.
type Empty struct{}

// SyncPage is one page of a full vault pull.
type SyncPage struct {
	Ciphers          []*vault.CipherRecord       `json:"ciphers"`
	Page             int                         `json:"page"`
	HasMore          bool                        `json:"hasMore"`
	OrganizationKeys map[string]crypto.EncString `json:"organizationKeys,omitzero"`
}

// PasswordRequest commits a master password change in one request.
type PasswordRequest struct {
	MasterPasswordHash    string           `json:"masterPasswordHash"`
	NewMasterPasswordHash string           `json:"newMasterPasswordHash"`
	Key                   crypto.EncString `json:"key"`
	PrivateKey            crypto.EncString `json:"privateKey"`
}

// Client is the cipher API the sync engine depends on.
type Client interface {
	Sync(ctx context.Context, page, size int) Result[*SyncPage]
	LastUpdate(ctx context.Context) Result[time.Time]
	GetCipher(ctx context.Context, id string) Result[*vault.CipherRecord]
	PostCipher(ctx context.Context, rec *vault.CipherRecord) Result[*vault.CipherRecord]
	PutCipher(ctx context.Context, rec *vault.CipherRecord) Result[*vault.CipherRecord]
	DeleteCipher(ctx context.Context, id string) Result[Empty]
	PostPassword(ctx context.Context, req PasswordRequest) Result[Empty]
}

// RegisterRequest creates an account. Keys are wrapped; KeyHash is the
// only password-derived value the server sees.
type RegisterRequest struct {
	UserID     string           `json:"userId"`
	Email      string           `json:"email"`
	KDF        crypto.KDFConfig `json:"kdf"`
	KeyHash    string           `json:"masterPasswordHash"`
	Key        crypto.EncString `json:"key"`
	PrivateKey crypto.EncString `json:"privateKey"`
	PublicKey  string           `json:"publicKey"`
}

// LoginRequest exchanges the key hash for an access token.
type LoginRequest struct {
	Email   string `json:"email"`
	KeyHash string `json:"masterPasswordHash"`
}

// LoginResponse carries the token and the wrapped key material the client
// needs to unlock.
type LoginResponse struct {
	AccessToken      string                      `json:"access_token"`
	UserID           string                      `json:"userId"`
	KDF              crypto.KDFConfig            `json:"kdf"`
	Key              crypto.EncString            `json:"key"`
	PrivateKey       crypto.EncString            `json:"privateKey"`
	PublicKey        string                      `json:"publicKey"`
	OrganizationKeys map[string]crypto.EncString `json:"organizationKeys,omitzero"`
}

// Accounts is the account API used before a session exists.
type Accounts interface {
	Prelogin(ctx context.Context, email string) Result[crypto.KDFConfig]
	Register(ctx context.Context, req RegisterRequest) Result[Empty]
	Login(ctx context.Context, req LoginRequest) Result[*LoginResponse]
}

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenHolder is a TokenSource whose token is replaced at login and cleared
// at logout.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (h *TokenHolder) Token(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", ErrNoToken
	}
	return h.token, nil
}

func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

func (h *TokenHolder) Clear() {
	h.Set("")
}

// ErrNoToken is returned by a TokenHolder before login.
var ErrNoToken = errors.New("transport: no access token")
