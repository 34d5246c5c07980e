// Package syncer is the sync state machine. It pushes local changes, pulls
// server deltas into the encrypted cache, tracks which ids are still
// unconfirmed and hands fresh records to the decryption pipeline. Every
// mutation runs on the sync queue, so there is a single writer.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/internal/observe"
	"github.com/jmcleod/ironkeep/metrics"
	"github.com/jmcleod/ironkeep/queue"
	"github.com/jmcleod/ironkeep/transport"
	"github.com/jmcleod/ironkeep/vault"
)

// DefaultPageSize is the number of ciphers requested per pull page.
const DefaultPageSize = 500

// maxPages bounds a pull against a server that never stops paging.
const maxPages = 10000

// SyncOptions controls one RequestSync call.
type SyncOptions struct {
	// Force pulls even when the server reports nothing newer.
	Force bool
}

// Decrypter turns cached records into views.
type Decrypter interface {
	DecryptBatch(ctx context.Context, records []*vault.CipherRecord, onProgress func(vault.Progress)) (*vault.BatchResult, error)
}

// ViewUpdate is handed to the view sink after records were decrypted or
// removed. When Full is set Result replaces every view.
type ViewUpdate struct {
	Full    bool
	Result  *vault.BatchResult
	Removed []string
}

// Engine drives sync for one account.
type Engine struct {
	client   transport.Client
	cache    *vault.Cache
	store    *StateStore
	queue    *queue.Queue
	bus      *events.Bus
	logger   *slog.Logger
	recorder metrics.Recorder
	clock    func() time.Time
	pageSize int

	decrypter Decrypter
	sink      func(ViewUpdate)
	orgKeys   func(map[string]crypto.EncString) error

	fetches singleflight.Group

	mu              sync.Mutex
	lastSync        time.Time
	lastCacheUpdate time.Time
	notSynced       idSet
	notUpdated      idSet
	outdated        idSet
	syncing         bool
	decrypting      bool
	status          Status

	state       *observe.Value[State]
	unsubscribe func()
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithEventBus publishes sync events on bus and clears local state on
// events.ClearAllData.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithDecrypter runs d over fresh records and hands the result to sink.
func WithDecrypter(d Decrypter, sink func(ViewUpdate)) Option {
	return func(e *Engine) {
		e.decrypter = d
		e.sink = sink
	}
}

// WithOrganizationKeys receives the wrapped organization keys of each pull.
func WithOrganizationKeys(fn func(map[string]crypto.EncString) error) Option {
	return func(e *Engine) {
		e.orgKeys = fn
	}
}

// NewEngine restores persisted state and returns an engine that schedules
// on q, which must have concurrency 1.
func NewEngine(client transport.Client, cache *vault.Cache, store *StateStore, q *queue.Queue, opts ...Option) (*Engine, error) {
	e := &Engine{
		client:   client,
		cache:    cache,
		store:    store,
		queue:    q,
		logger:   slog.Default(),
		recorder: metrics.Noop{},
		clock:    time.Now,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	ps, err := store.load()
	if err != nil {
		return nil, fmt.Errorf("loading sync state: %w", err)
	}
	e.lastSync = ps.LastSync
	e.lastCacheUpdate = ps.LastCacheUpdate
	e.notSynced = newIDSet(ps.NotSynced)
	e.notUpdated = newIDSet(ps.NotUpdated)
	e.outdated = newIDSet(ps.Outdated)
	e.state = observe.New(e.snapshotLocked())

	if e.bus != nil {
		e.unsubscribe = events.On(e.bus, func(events.ClearAllData) {
			e.clearAll()
		})
	}
	return e, nil
}

// Close detaches the engine from the event bus.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// State returns the current sync state.
func (e *Engine) State() State {
	return e.state.Get()
}

// Subscribe calls fn after every state change.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	return e.state.Subscribe(fn)
}

// RequestSync pushes pending changes and pulls the vault when the server
// has anything newer. Runs are serialized on the sync queue. A network
// failure ends the run with StatusOffline and no error; pending ids are
// kept for the next run.
func (e *Engine) RequestSync(ctx context.Context, opts SyncOptions) (Status, error) {
	var status Status
	err := e.queue.Do(ctx, func(ctx context.Context) error {
		var err error
		status, err = e.runSync(ctx, opts)
		return err
	})
	return status, err
}

func (e *Engine) runSync(ctx context.Context, opts SyncOptions) (Status, error) {
	start := time.Now()
	e.update(func() { e.syncing = true })

	status, err := e.syncOnce(ctx, opts)
	// An unauthorized run has already logged out and wiped the state.
	loggedOut := errors.Is(err, ErrUnauthorized)

	var lastSync time.Time
	e.update(func() {
		e.syncing = false
		if status == StatusSynced && len(e.outdated) > 0 {
			status = StatusOutdated
		}
		if !loggedOut {
			e.status = status
		}
		lastSync = e.lastSync
	})
	if !loggedOut {
		e.persist()
	}

	e.recorder.RecordSync(status.String(), time.Since(start))
	e.publish(events.SyncCompleted{Status: status.String(), LastSync: lastSync})
	if err != nil {
		e.logger.Warn("sync failed", slog.String("status", status.String()), slog.Any("error", err))
	} else {
		e.logger.Debug("sync finished", slog.String("status", status.String()))
	}
	return status, err
}

func (e *Engine) syncOnce(ctx context.Context, opts SyncOptions) (Status, error) {
	if err := e.push(ctx); err != nil {
		return failStatus(err)
	}

	lu := e.client.LastUpdate(ctx)
	if err := e.resultError(lu.Status, lu.Err, ""); err != nil {
		return failStatus(err)
	}
	e.mu.Lock()
	last := e.lastSync
	e.mu.Unlock()
	if !opts.Force && !last.IsZero() && !lu.Value.After(last) {
		return StatusSkipped, nil
	}

	if err := e.pull(ctx); err != nil {
		return failStatus(err)
	}
	e.update(func() {
		if lu.Value.After(e.lastSync) {
			e.lastSync = lu.Value
		}
		e.lastCacheUpdate = e.clock()
	})
	e.persist()

	e.decryptAll(ctx)
	return StatusSynced, nil
}

func failStatus(err error) (Status, error) {
	if errors.Is(err, ErrNetworkUnavailable) {
		return StatusOffline, nil
	}
	return StatusFailed, err
}

// push retries every unconfirmed create and update individually. Failures
// that concern one record are logged and kept for the next run.
func (e *Engine) push(ctx context.Context) error {
	e.mu.Lock()
	creates := e.notSynced.sorted()
	updates := e.notUpdated.sorted()
	e.mu.Unlock()

	for _, id := range creates {
		rec, err := e.pending(id)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if _, err := e.create(ctx, rec); err != nil && !recordLevel(err) {
			return err
		}
	}
	for _, id := range updates {
		rec, err := e.pending(id)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if _, err := e.updateRemote(ctx, rec); err != nil && !recordLevel(err) {
			return err
		}
	}
	return nil
}

// pending loads a record awaiting push. A record that no longer exists
// locally is dropped from the sets.
func (e *Engine) pending(id string) (*vault.CipherRecord, error) {
	rec, err := e.cache.Get(id)
	if err == nil {
		return rec, nil
	}
	if isNotFound(err) {
		e.update(func() { e.confirmLocked(id) })
		e.persist()
		return nil, nil
	}
	return nil, err
}

func recordLevel(err error) bool {
	return errors.Is(err, ErrServerRejected) || errors.Is(err, ErrDataOutdated)
}

func (e *Engine) create(ctx context.Context, rec *vault.CipherRecord) (*vault.CipherRecord, error) {
	res := e.client.PostCipher(ctx, rec)
	if res.Status != transport.OK {
		e.update(func() { e.markLocked(e.notSynced, rec.ID) })
		e.persist()
		return nil, e.resultError(res.Status, res.Err, rec.ID)
	}

	confirmed := res.Value
	if err := e.cache.Replace(rec.ID, confirmed); err != nil {
		return nil, fmt.Errorf("replacing cipher %s: %w", rec.ID, err)
	}
	e.update(func() {
		e.confirmLocked(rec.ID)
		e.lastCacheUpdate = e.clock()
	})
	e.persist()
	if confirmed.ID != rec.ID {
		e.logger.Debug("cipher id replaced", slog.String("old_id", rec.ID), slog.String("new_id", confirmed.ID))
		e.publish(events.CipherIDReplaced{OldID: rec.ID, NewID: confirmed.ID})
		e.emit(ViewUpdate{Removed: []string{rec.ID}})
	}
	e.decryptOne(ctx, confirmed)
	return confirmed, nil
}

func (e *Engine) updateRemote(ctx context.Context, rec *vault.CipherRecord) (*vault.CipherRecord, error) {
	res := e.client.PutCipher(ctx, rec)
	switch res.Status {
	case transport.OK:
	case transport.NotFound:
		e.markOutdated(rec.ID)
		return nil, &SyncError{Kind: DataOutdated, CipherID: rec.ID, Err: res.Err}
	default:
		e.update(func() { e.markLocked(e.notUpdated, rec.ID) })
		e.persist()
		return nil, e.resultError(res.Status, res.Err, rec.ID)
	}

	if err := e.cache.Put(res.Value); err != nil {
		return nil, fmt.Errorf("storing cipher %s: %w", rec.ID, err)
	}
	e.update(func() {
		e.confirmLocked(rec.ID)
		e.lastCacheUpdate = e.clock()
	})
	e.persist()
	e.decryptOne(ctx, res.Value)
	return res.Value, nil
}

// pull fetches every page, merges records without pending local changes
// and prunes cached records the server no longer returns.
func (e *Engine) pull(ctx context.Context) error {
	seen := make(map[string]struct{})
	orgKeys := make(map[string]crypto.EncString)

	for page := 0; ; page++ {
		if page >= maxPages {
			return &SyncError{Kind: ServerRejected, Err: fmt.Errorf("more than %d pages", maxPages)}
		}
		res := e.client.Sync(ctx, page, e.pageSize)
		if err := e.resultError(res.Status, res.Err, ""); err != nil {
			return err
		}
		p := res.Value
		for _, rec := range p.Ciphers {
			if rec == nil || rec.ID == "" {
				continue
			}
			seen[rec.ID] = struct{}{}
			if e.isPending(rec.ID) {
				continue
			}
			if _, err := e.cache.Merge(rec); err != nil {
				if errors.Is(err, vault.ErrValidation) {
					e.logger.Warn("skipping invalid cipher", slog.String("cipher_id", rec.ID), slog.Any("error", err))
					continue
				}
				return fmt.Errorf("merging cipher %s: %w", rec.ID, err)
			}
		}
		maps.Copy(orgKeys, p.OrganizationKeys)
		if !p.HasMore {
			break
		}
	}

	ids, err := e.cache.IDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok || e.isPending(id) {
			continue
		}
		if err := e.cache.Delete(id); err != nil {
			return fmt.Errorf("pruning cipher %s: %w", id, err)
		}
	}

	if len(orgKeys) > 0 && e.orgKeys != nil {
		if err := e.orgKeys(orgKeys); err != nil {
			e.logger.Warn("loading organization keys", slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) decryptAll(ctx context.Context) {
	if e.decrypter == nil {
		return
	}
	records, err := e.cache.List()
	if err != nil {
		e.logger.Warn("listing cached ciphers", slog.Any("error", err))
		return
	}
	e.update(func() { e.decrypting = true })
	defer e.update(func() { e.decrypting = false })

	res, err := e.decrypter.DecryptBatch(ctx, records, nil)
	if err != nil {
		e.logger.Info("batch decryption skipped", slog.Any("error", err))
		return
	}
	e.emit(ViewUpdate{Full: true, Result: res})
}

// DecryptCache decrypts every cached record and replaces the views, so an
// unlock shows the vault before the next sync completes.
func (e *Engine) DecryptCache(ctx context.Context) error {
	return e.queue.Do(ctx, func(ctx context.Context) error {
		e.decryptAll(ctx)
		return nil
	})
}

func (e *Engine) decryptOne(ctx context.Context, rec *vault.CipherRecord) {
	if e.decrypter == nil {
		return
	}
	res, err := e.decrypter.DecryptBatch(ctx, []*vault.CipherRecord{rec}, nil)
	if err != nil {
		e.logger.Debug("cipher decryption skipped", slog.String("cipher_id", rec.ID), slog.Any("error", err))
		return
	}
	e.emit(ViewUpdate{Result: res})
}

// resultError maps a non-OK transport status onto the sync taxonomy. An
// unauthorized result ends the session.
func (e *Engine) resultError(status transport.Status, err error, id string) error {
	switch status {
	case transport.OK:
		return nil
	case transport.Unauthorized:
		e.forceLogout("unauthorized")
		return &SyncError{Kind: Unauthorized, CipherID: id, Err: err}
	case transport.NetworkError:
		return &SyncError{Kind: NetworkUnavailable, CipherID: id, Err: err}
	case transport.BadData, transport.NotFound, transport.ServerError:
		return &SyncError{Kind: ServerRejected, CipherID: id, Err: err}
	default:
		return &SyncError{Kind: ServerRejected, CipherID: id, Err: fmt.Errorf("unknown status %v: %w", status, err)}
	}
}

func (e *Engine) forceLogout(reason string) {
	e.logger.Warn("forcing logout", slog.String("reason", reason))
	e.publish(events.ForceLogout{Reason: reason})
}

func (e *Engine) markOutdated(id string) {
	e.update(func() { e.markLocked(e.outdated, id) })
	e.persist()
	e.logger.Warn("cipher data outdated", slog.String("cipher_id", id))
	e.publish(events.DataOutdated{CipherID: id})
}

// clearAll drops every cached record and all sync bookkeeping.
func (e *Engine) clearAll() {
	e.queue.Clear()
	if err := e.cache.Clear(); err != nil {
		e.logger.Warn("clearing cipher cache", slog.Any("error", err))
	}
	if err := e.store.clear(); err != nil {
		e.logger.Warn("clearing sync state", slog.Any("error", err))
	}
	e.update(func() {
		e.lastSync = time.Time{}
		e.lastCacheUpdate = time.Time{}
		e.notSynced = idSet{}
		e.notUpdated = idSet{}
		e.outdated = idSet{}
		e.status = StatusIdle
	})
	e.emit(ViewUpdate{Full: true, Result: &vault.BatchResult{Views: map[string]*vault.CipherView{}}})
}

func (e *Engine) isPending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notSynced.has(id) || e.notUpdated.has(id) || e.outdated.has(id)
}

// markLocked moves id into set, removing it from every other set.
func (e *Engine) markLocked(set idSet, id string) {
	e.confirmLocked(id)
	set[id] = struct{}{}
}

func (e *Engine) confirmLocked(id string) {
	delete(e.notSynced, id)
	delete(e.notUpdated, id)
	delete(e.outdated, id)
}

func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	s := e.snapshotLocked()
	e.mu.Unlock()
	e.state.Update(func(State) State { return s })
}

func (e *Engine) snapshotLocked() State {
	return State{
		LastSync:          e.lastSync,
		LastCacheUpdate:   e.lastCacheUpdate,
		IsSyncing:         e.syncing,
		IsBatchDecrypting: e.decrypting,
		NotSynced:         e.notSynced.sorted(),
		NotUpdated:        e.notUpdated.sorted(),
		Outdated:          e.outdated.sorted(),
		Status:            e.status,
	}
}

func (e *Engine) persist() {
	e.mu.Lock()
	ps := persistedState{
		LastSync:        e.lastSync,
		LastCacheUpdate: e.lastCacheUpdate,
		NotSynced:       e.notSynced.sorted(),
		NotUpdated:      e.notUpdated.sorted(),
		Outdated:        e.outdated.sorted(),
	}
	e.mu.Unlock()
	if err := e.store.save(ps); err != nil {
		e.logger.Warn("saving sync state", slog.Any("error", err))
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) emit(u ViewUpdate) {
	if e.sink != nil {
		e.sink(u)
	}
}
