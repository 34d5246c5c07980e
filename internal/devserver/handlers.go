package devserver

import (
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/realtime"
	"github.com/jmcleod/ironkeep/transport"
	"github.com/jmcleod/ironkeep/vault"
)

const (
	defaultPageSize = 500
	maxPageSize     = 5000
)

func (s *Server) prelogin(w http.ResponseWriter, r *http.Request) {
	var req transport.PreloginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	kdf := crypto.DefaultKDFConfig()
	if uid, ok := s.emails[util.NormalizeEmail(req.Email)]; ok {
		kdf = s.accounts[uid].kdf
	}
	s.mu.Unlock()
	// Unknown emails get the default so prelogin does not reveal accounts.
	writeJSON(w, http.StatusOK, kdf)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req transport.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := util.NormalizeEmail(req.Email)
	switch {
	case req.UserID == "" || email == "":
		writeError(w, http.StatusBadRequest, "user id and email are required")
		return
	case req.KeyHash == "" || req.Key.IsZero() || req.PrivateKey.IsZero() || req.PublicKey == "":
		writeError(w, http.StatusBadRequest, "key material is required")
		return
	}
	if err := req.KDF.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	_, emailTaken := s.emails[email]
	_, idTaken := s.accounts[req.UserID]
	if emailTaken || idTaken {
		s.mu.Unlock()
		mapError(w, errAccountExists)
		return
	}
	s.accounts[req.UserID] = &account{
		userID:     req.UserID,
		email:      email,
		kdf:        req.KDF,
		keyHash:    serverHash(req.KeyHash),
		key:        req.Key,
		privateKey: req.PrivateKey,
		publicKey:  req.PublicKey,
		ciphers:    make(map[string]*vault.CipherRecord),
		revision:   s.clock(),
	}
	s.emails[email] = req.UserID
	s.mu.Unlock()

	s.logger.Info("account registered", slog.String("user_id", req.UserID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req transport.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := util.NormalizeEmail(req.Email)
	if blocked, retryAfter := s.limiter.check(email); blocked {
		writeRateLimited(w, retryAfter)
		return
	}

	s.mu.Lock()
	var acct *account
	if uid, ok := s.emails[email]; ok {
		acct = s.accounts[uid]
	}
	if acct == nil || !hashMatches(acct.keyHash, req.KeyHash) {
		s.mu.Unlock()
		s.limiter.recordFailure(email)
		mapError(w, errInvalidCredentials)
		return
	}
	resp := transport.LoginResponse{
		UserID:           acct.userID,
		KDF:              acct.kdf,
		Key:              acct.key,
		PrivateKey:       acct.privateKey,
		PublicKey:        acct.publicKey,
		OrganizationKeys: cloneOrgKeys(acct.orgKeys),
	}
	s.mu.Unlock()
	s.limiter.recordSuccess(email)

	tok, err := s.issueToken(resp.UserID)
	if err != nil {
		mapError(w, err)
		return
	}
	resp.AccessToken = tok
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		writeError(w, http.StatusBadRequest, "invalid page size")
		return
	}

	var out transport.SyncPage
	err = s.withAccount(r, func(acct *account) error {
		ids := sortedKeys(acct.ciphers)
		lo := min(page*size, len(ids))
		hi := min(lo+size, len(ids))
		out = transport.SyncPage{Page: page, HasMore: hi < len(ids), OrganizationKeys: cloneOrgKeys(acct.orgKeys)}
		for _, id := range ids[lo:hi] {
			c := *acct.ciphers[id]
			out.Ciphers = append(out.Ciphers, &c)
		}
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) revisionDate(w http.ResponseWriter, r *http.Request) {
	var out transport.LastUpdateResponse
	err := s.withAccount(r, func(acct *account) error {
		out.LastUpdate = acct.revision
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req transport.PasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NewMasterPasswordHash == "" || req.Key.IsZero() || req.PrivateKey.IsZero() {
		writeError(w, http.StatusBadRequest, "new key material is required")
		return
	}
	err := s.withAccount(r, func(acct *account) error {
		if !hashMatches(acct.keyHash, req.MasterPasswordHash) {
			return errWrongPassword
		}
		acct.keyHash = serverHash(req.NewMasterPasswordHash)
		acct.key = req.Key
		acct.privateKey = req.PrivateKey
		acct.revision = s.clock()
		return nil
	})
	switch {
	case errors.Is(err, errWrongPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		mapError(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

var errWrongPassword = errors.New("current master password is incorrect")

func (s *Server) createCipher(w http.ResponseWriter, r *http.Request) {
	var rec vault.CipherRecord
	if !decodeJSON(w, r, &rec) {
		return
	}
	rec.ID = uuid.New()
	if err := vault.ValidateRecord(&rec); err != nil {
		mapError(w, err)
		return
	}
	uid := userIDFromContext(r.Context())
	err := s.withAccount(r, func(acct *account) error {
		rec.RevisionDate = s.clock()
		c := rec
		acct.ciphers[rec.ID] = &c
		acct.revision = rec.RevisionDate
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	s.Notify(uid, realtime.Notification{Event: realtime.EventSync, Type: realtime.TypeCipherCreate, Data: realtime.Data{ID: rec.ID}})
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getCipher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cipherID")
	var out vault.CipherRecord
	err := s.withAccount(r, func(acct *account) error {
		c, ok := acct.ciphers[id]
		if !ok {
			return errCipherNotFound
		}
		out = *c
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateCipher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cipherID")
	var rec vault.CipherRecord
	if !decodeJSON(w, r, &rec) {
		return
	}
	rec.ID = id
	if err := vault.ValidateRecord(&rec); err != nil {
		mapError(w, err)
		return
	}
	uid := userIDFromContext(r.Context())
	err := s.withAccount(r, func(acct *account) error {
		if _, ok := acct.ciphers[id]; !ok {
			return errCipherNotFound
		}
		rec.RevisionDate = s.clock()
		c := rec
		acct.ciphers[id] = &c
		acct.revision = rec.RevisionDate
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	s.Notify(uid, realtime.Notification{Event: realtime.EventSync, Type: realtime.TypeCipherUpdate, Data: realtime.Data{ID: id}})
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteCipher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cipherID")
	uid := userIDFromContext(r.Context())
	err := s.withAccount(r, func(acct *account) error {
		if _, ok := acct.ciphers[id]; !ok {
			return errCipherNotFound
		}
		delete(acct.ciphers, id)
		acct.revision = s.clock()
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	s.Notify(uid, realtime.Notification{Event: realtime.EventSync, Type: realtime.TypeCipherDelete, Data: realtime.Data{ID: id}})
	w.WriteHeader(http.StatusNoContent)
}

// withAccount runs fn on the caller's account under the server lock.
func (s *Server) withAccount(r *http.Request, fn func(*account) error) error {
	uid := userIDFromContext(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[uid]
	if !ok {
		return errUnknownAccount
	}
	return fn(acct)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
