package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/vault"
)

// DefaultTimeout bounds every request made by an HTTPClient.
const DefaultTimeout = 30 * time.Second

// ErrorResponse is the error body returned by the server.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LastUpdateResponse carries the account revision date.
type LastUpdateResponse struct {
	LastUpdate time.Time `json:"lastUpdate"`
}

// PreloginRequest asks for the KDF settings of an account.
type PreloginRequest struct {
	Email string `json:"email"`
}

// HTTPClient implements Client and Accounts over the JSON HTTP API.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  *slog.Logger
}

var (
	_ Client   = (*HTTPClient)(nil)
	_ Accounts = (*HTTPClient)(nil)
)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPClient) {
		h.logger = l
	}
}

// NewHTTPClient returns a client for the server at baseURL. tokens may be
// nil for a client that only uses Accounts.
func NewHTTPClient(baseURL string, tokens TokenSource, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) Sync(ctx context.Context, page, size int) Result[*SyncPage] {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out SyncPage
	return call(ctx, h, http.MethodGet, "/api/sync?"+q.Encode(), nil, &out, true, &out)
}

func (h *HTTPClient) LastUpdate(ctx context.Context) Result[time.Time] {
	var out LastUpdateResponse
	res := call(ctx, h, http.MethodGet, "/api/accounts/revision-date", nil, &out, true, &out)
	if res.Status != OK {
		return Fail[time.Time](res.Status, res.Err)
	}
	return Ok(out.LastUpdate)
}

func (h *HTTPClient) GetCipher(ctx context.Context, id string) Result[*vault.CipherRecord] {
	var out vault.CipherRecord
	return call(ctx, h, http.MethodGet, "/api/ciphers/"+url.PathEscape(id), nil, &out, true, &out)
}

func (h *HTTPClient) PostCipher(ctx context.Context, rec *vault.CipherRecord) Result[*vault.CipherRecord] {
	var out vault.CipherRecord
	return call(ctx, h, http.MethodPost, "/api/ciphers", rec, &out, true, &out)
}

func (h *HTTPClient) PutCipher(ctx context.Context, rec *vault.CipherRecord) Result[*vault.CipherRecord] {
	var out vault.CipherRecord
	return call(ctx, h, http.MethodPut, "/api/ciphers/"+url.PathEscape(rec.ID), rec, &out, true, &out)
}

func (h *HTTPClient) DeleteCipher(ctx context.Context, id string) Result[Empty] {
	return call(ctx, h, http.MethodDelete, "/api/ciphers/"+url.PathEscape(id), nil, nil, true, Empty{})
}

func (h *HTTPClient) PostPassword(ctx context.Context, req PasswordRequest) Result[Empty] {
	return call(ctx, h, http.MethodPost, "/api/accounts/password", req, nil, true, Empty{})
}

func (h *HTTPClient) Prelogin(ctx context.Context, email string) Result[crypto.KDFConfig] {
	var out crypto.KDFConfig
	res := call(ctx, h, http.MethodPost, "/api/accounts/prelogin", PreloginRequest{Email: email}, &out, false, &out)
	if res.Status != OK {
		return Fail[crypto.KDFConfig](res.Status, res.Err)
	}
	return Ok(out)
}

func (h *HTTPClient) Register(ctx context.Context, req RegisterRequest) Result[Empty] {
	return call(ctx, h, http.MethodPost, "/api/accounts/register", req, nil, false, Empty{})
}

func (h *HTTPClient) Login(ctx context.Context, req LoginRequest) Result[*LoginResponse] {
	var out LoginResponse
	return call(ctx, h, http.MethodPost, "/identity/token", req, &out, false, &out)
}

// call performs one request and classifies the outcome. out receives the
// decoded body and value is returned on success.
func call[T any](ctx context.Context, h *HTTPClient, method, path string, body, out any, auth bool, value T) Result[T] {
	var reqBody io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return Fail[T](BadData, fmt.Errorf("encoding request: %w", err))
		}
		reqBody = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return Fail[T](BadData, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if h.tokens == nil {
			return Fail[T](Unauthorized, ErrNoToken)
		}
		token, err := h.tokens.Token(ctx)
		if err != nil {
			return Fail[T](Unauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return Fail[T](NetworkError, err)
	}
	defer resp.Body.Close()

	status := classify(resp.StatusCode)
	if status != OK {
		err := readError(resp)
		h.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Any("error", err))
		return Fail[T](status, err)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Fail[T](BadData, fmt.Errorf("decoding response: %w", err))
		}
	}
	return Ok(value)
}

func classify(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return OK
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return Unauthorized
	case code == http.StatusNotFound:
		return NotFound
	case code >= 400 && code < 500:
		return BadData
	default:
		return ServerError
	}
}

func readError(resp *http.Response) error {
	var er ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, er.Error)
	}
	return errors.New(resp.Status)
}
