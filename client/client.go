// Package client wires the vault client core together: key management,
// the encrypted cache, sync, decryption, push notifications and password
// health, all sharing one event bus and one storage repository.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmcleod/ironkeep/config"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/health"
	"github.com/jmcleod/ironkeep/keyring"
	"github.com/jmcleod/ironkeep/metrics"
	"github.com/jmcleod/ironkeep/queue"
	"github.com/jmcleod/ironkeep/realtime"
	"github.com/jmcleod/ironkeep/storage"
	bboltstorage "github.com/jmcleod/ironkeep/storage/bbolt"
	"github.com/jmcleod/ironkeep/syncer"
	"github.com/jmcleod/ironkeep/transport"
	"github.com/jmcleod/ironkeep/vault"
)

const (
	cacheNamespace = "ciphers"
	stateNamespace = "sync"
	dbFile         = "ironkeep.db"
)

// Client is one signed-in (or signed-out) vault client.
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder metrics.Recorder
	online   func() bool

	repo       storage.Repository
	closeRepo  func() error
	httpClient *http.Client

	bus      *events.Bus
	tokens   *transport.TokenHolder
	api      *transport.HTTPClient
	keys     *keyring.Manager
	pipeline *vault.Pipeline
	engine   *syncer.Engine
	health   *health.Recomputer
	listener *realtime.Listener

	syncQueue    *queue.Queue
	decryptQueue *queue.Queue
	healthQueue  *queue.Queue

	mu    sync.RWMutex
	views map[string]*vault.CipherView

	unsubscribe []func()
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithRepository stores everything in repo instead of a bbolt file under
// the configured data directory. The caller keeps ownership of repo.
func WithRepository(repo storage.Repository) Option {
	return func(c *Client) {
		c.repo = repo
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithOnline reports host connectivity to the push listener.
func WithOnline(fn func() bool) Option {
	return func(c *Client) {
		c.online = fn
	}
}

// New builds a client from cfg. Nothing touches the network until a
// session is started.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: metrics.Noop{},
		views:    map[string]*vault.CipherView{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.repo == nil {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, dbFile), nil)
		if err != nil {
			return nil, err
		}
		c.repo = repo
		c.closeRepo = repo.Close
	}

	pushURL, err := cfg.PushURL()
	if err != nil {
		c.closeOwnedRepo()
		return nil, err
	}

	c.bus = events.NewBus()
	c.tokens = &transport.TokenHolder{}
	httpOpts := []transport.HTTPOption{transport.WithLogger(c.logger)}
	if c.httpClient != nil {
		httpOpts = append(httpOpts, transport.WithHTTPClient(c.httpClient))
	}
	c.api = transport.NewHTTPClient(cfg.ServerURL, c.tokens, httpOpts...)

	c.keys = keyring.NewManager(keyring.NewStore(c.repo),
		keyring.WithLogger(c.logger),
		keyring.WithRecorder(c.recorder),
		keyring.WithEventBus(c.bus),
		keyring.WithMaxUnlockAttempts(cfg.MaxUnlockAttempts),
		keyring.WithRSABits(cfg.RSABits),
	)

	c.syncQueue = queue.New("sync", 1, queue.WithLogger(c.logger), queue.WithRecorder(c.recorder))
	c.decryptQueue = queue.New("decrypt", cfg.DecryptConcurrency, queue.WithLogger(c.logger), queue.WithRecorder(c.recorder))
	c.healthQueue = queue.New("health", 1, queue.WithReplace(), queue.WithLogger(c.logger), queue.WithRecorder(c.recorder))

	c.pipeline = vault.NewPipeline(c.keys, c.decryptQueue, c.bus,
		vault.WithLogger(c.logger),
		vault.WithRecorder(c.recorder),
	)
	c.health = health.NewRecomputer(c.healthQueue, c.viewList, health.WithLogger(c.logger))

	c.engine, err = syncer.NewEngine(c.api, vault.NewCache(c.repo, cacheNamespace), syncer.NewStateStore(c.repo, stateNamespace), c.syncQueue,
		syncer.WithLogger(c.logger),
		syncer.WithRecorder(c.recorder),
		syncer.WithEventBus(c.bus),
		syncer.WithPageSize(cfg.SyncPageSize),
		syncer.WithDecrypter(c.pipeline, c.applyViews),
		syncer.WithOrganizationKeys(c.keys.SetOrganizationKeys),
	)
	if err != nil {
		c.closeQueues()
		c.keys.Close()
		c.closeOwnedRepo()
		return nil, err
	}

	listenerOpts := []realtime.Option{
		realtime.WithLogger(c.logger),
		realtime.WithRecorder(c.recorder),
		realtime.WithReconnectDelay(cfg.ReconnectDelay),
		realtime.WithAuthenticated(c.authenticated),
		realtime.WithOnConnect(c.onConnect),
	}
	if c.online != nil {
		listenerOpts = append(listenerOpts, realtime.WithOnline(c.online))
	}
	dialer := &realtime.WebSocketDialer{URL: pushURL, Tokens: c.tokens}
	c.listener = realtime.NewListener(dialer, c.engine.HandleNotification, listenerOpts...)

	c.unsubscribe = append(c.unsubscribe,
		events.On(c.bus, func(events.ClearAllData) {
			c.tokens.Clear()
		}),
		c.keys.Subscribe(func(s keyring.Snapshot) {
			if s.State != keyring.Unlocked {
				c.dropViews()
			}
		}),
	)
	return c, nil
}

// Close releases the client. Queued work is dropped.
func (c *Client) Close() error {
	for _, u := range c.unsubscribe {
		u()
	}
	c.engine.Close()
	c.keys.Close()
	c.closeQueues()
	return c.closeOwnedRepo()
}

func (c *Client) closeQueues() {
	c.syncQueue.Close()
	c.decryptQueue.Close()
	c.healthQueue.Close()
}

func (c *Client) closeOwnedRepo() error {
	if c.closeRepo == nil {
		return nil
	}
	err := c.closeRepo()
	c.closeRepo = nil
	return err
}

// Events returns the bus the client's components publish on.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// Session returns the key manager state.
func (c *Client) Session() keyring.Snapshot {
	return c.keys.Snapshot()
}

// SubscribeSession calls fn after every session state change.
func (c *Client) SubscribeSession(fn func(keyring.Snapshot)) (unsubscribe func()) {
	return c.keys.Subscribe(fn)
}

// SyncState returns the sync engine state.
func (c *Client) SyncState() syncer.State {
	return c.engine.State()
}

// SubscribeSync calls fn after every sync state change.
func (c *Client) SubscribeSync(fn func(syncer.State)) (unsubscribe func()) {
	return c.engine.Subscribe(fn)
}

func (c *Client) hasToken() bool {
	_, err := c.tokens.Token(context.Background())
	return err == nil
}

func (c *Client) authenticated() bool {
	return c.keys.Snapshot().State == keyring.Unlocked && c.hasToken()
}

func (c *Client) onConnect(ctx context.Context) {
	if _, err := c.engine.RequestSync(ctx, syncer.SyncOptions{}); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("sync after push connect failed", slog.Any("error", err))
	}
}
