// Package devserver is an in-memory vault server speaking the same JSON API
// as the real service. It backs the integration tests and the dev CLI. It
// stores only what clients send it, so it never sees plaintext or keys.
package devserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/realtime"
	"github.com/jmcleod/ironkeep/vault"
)

var (
	errAccountExists      = errors.New("account already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errCipherNotFound     = errors.New("cipher not found")
	errUnknownAccount     = errors.New("unknown account")
)

type account struct {
	userID     string
	email      string
	kdf        crypto.KDFConfig
	keyHash    string
	key        crypto.EncString
	privateKey crypto.EncString
	publicKey  string
	orgKeys    map[string]crypto.EncString
	ciphers    map[string]*vault.CipherRecord
	revision   time.Time
}

// Server is the in-memory vault server.
type Server struct {
	logger  *slog.Logger
	clock   func() time.Time
	limiter *loginRateLimiter
	hub     *hub

	mu       sync.Mutex
	accounts map[string]*account // by user id
	emails   map[string]string   // email -> user id
	tokens   map[string]string   // token -> user id
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		logger:   slog.Default(),
		clock:    time.Now,
		limiter:  newLoginRateLimiter(),
		accounts: make(map[string]*account),
		emails:   make(map[string]string),
		tokens:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	return s
}

// Handler returns the HTTP handler for every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Post("/api/accounts/prelogin", s.prelogin)
	r.Post("/api/accounts/register", s.register)
	r.Post("/identity/token", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/sync", s.sync)
		r.Get("/api/accounts/revision-date", s.revisionDate)
		r.Post("/api/accounts/password", s.changePassword)
		r.Post("/api/ciphers", s.createCipher)
		r.Get("/api/ciphers/{cipherID}", s.getCipher)
		r.Put("/api/ciphers/{cipherID}", s.updateCipher)
		r.Delete("/api/ciphers/{cipherID}", s.deleteCipher)
		r.Get("/notifications/hub", s.hub.serve)
	})
	return r
}

// SetOrganizationKey grants the account an organization key wrapped to its
// public key.
func (s *Server) SetOrganizationKey(userID, orgID string, wrapped crypto.EncString) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return errUnknownAccount
	}
	if acct.orgKeys == nil {
		acct.orgKeys = make(map[string]crypto.EncString)
	}
	acct.orgKeys[orgID] = wrapped
	acct.revision = s.clock()
	return nil
}

// PutCipher stores rec as if another device had written it and notifies
// the account's connected clients.
func (s *Server) PutCipher(userID string, rec *vault.CipherRecord) error {
	s.mu.Lock()
	acct, ok := s.accounts[userID]
	if !ok {
		s.mu.Unlock()
		return errUnknownAccount
	}
	_, existed := acct.ciphers[rec.ID]
	c := *rec
	c.RevisionDate = s.clock()
	acct.ciphers[c.ID] = &c
	acct.revision = c.RevisionDate
	s.mu.Unlock()

	typ := realtime.TypeCipherCreate
	if existed {
		typ = realtime.TypeCipherUpdate
	}
	s.Notify(userID, realtime.Notification{Event: realtime.EventSync, Type: typ, Data: realtime.Data{ID: c.ID}})
	return nil
}

// RemoveCipher deletes a record without notifying anyone.
func (s *Server) RemoveCipher(userID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[userID]; ok {
		delete(acct.ciphers, id)
		acct.revision = s.clock()
	}
}

// Notify pushes n to every connected client of the account.
func (s *Server) Notify(userID string, n realtime.Notification) {
	s.hub.broadcast(userID, n)
}

// RevokeTokens invalidates every access token of the account.
func (s *Server) RevokeTokens(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, uid := range s.tokens {
		if uid == userID {
			delete(s.tokens, tok)
		}
	}
}

// CipherIDs returns the ids stored for the account.
func (s *Server) CipherIDs(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return nil
	}
	return sortedKeys(acct.ciphers)
}

func (s *Server) issueToken(userID string) (string, error) {
	b, err := util.RandomBytes(32)
	if err != nil {
		return "", err
	}
	tok := hex.EncodeToString(b)
	s.mu.Lock()
	s.tokens[tok] = userID
	s.mu.Unlock()
	return tok, nil
}

func (s *Server) userForToken(tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.tokens[tok]
	return uid, ok
}

// serverHash is what the server keeps of the client's key hash.
func serverHash(keyHash string) string {
	sum := sha256.Sum256([]byte(keyHash))
	return hex.EncodeToString(sum[:])
}

func hashMatches(stored, keyHash string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(serverHash(keyHash))) == 1
}

func cloneOrgKeys(m map[string]crypto.EncString) map[string]crypto.EncString {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}
