package syncer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/queue"
	"github.com/jmcleod/ironkeep/storage"
	"github.com/jmcleod/ironkeep/storage/memory"
	"github.com/jmcleod/ironkeep/transport"
	"github.com/jmcleod/ironkeep/vault"
)

var errOffline = errors.New("connection refused")

// fakeServer is an in-memory transport.Client.
type fakeServer struct {
	mu         sync.Mutex
	ciphers    map[string]*vault.CipherRecord
	lastUpdate time.Time
	nextID     int

	offline   bool
	status    transport.Status
	putStatus transport.Status
	rejected  map[string]bool

	syncCalls int
	getCalls  int
	posts     int
}

func newFakeServer(recs ...*vault.CipherRecord) *fakeServer {
	s := &fakeServer{ciphers: make(map[string]*vault.CipherRecord), lastUpdate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	for _, r := range recs {
		s.ciphers[r.ID] = r
	}
	return s
}

func (s *fakeServer) touch() {
	s.lastUpdate = s.lastUpdate.Add(time.Minute)
}

func (s *fakeServer) set(rec *vault.CipherRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ciphers[rec.ID] = rec
	s.touch()
}

func (s *fakeServer) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ciphers, id)
	s.touch()
}

func (s *fakeServer) setOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

func (s *fakeServer) setStatus(st transport.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// rejectPost makes creates of id fail with BadData until allowed again.
func (s *fakeServer) rejectPost(id string, reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejected == nil {
		s.rejected = make(map[string]bool)
	}
	s.rejected[id] = reject
}

func (s *fakeServer) counts() (syncs, gets, posts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncCalls, s.getCalls, s.posts
}

// failLocked returns the forced failure, if any. Callers hold mu.
func (s *fakeServer) failLocked() (transport.Status, error) {
	if s.offline {
		return transport.NetworkError, errOffline
	}
	if s.status != transport.OK {
		return s.status, fmt.Errorf("forced %s", s.status)
	}
	return transport.OK, nil
}

func (s *fakeServer) Sync(_ context.Context, page, size int) transport.Result[*transport.SyncPage] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.failLocked(); err != nil {
		return transport.Fail[*transport.SyncPage](st, err)
	}
	s.syncCalls++
	ids := slices.Sorted(maps.Keys(s.ciphers))
	lo := min(page*size, len(ids))
	hi := min(lo+size, len(ids))
	p := &transport.SyncPage{Page: page, HasMore: hi < len(ids)}
	for _, id := range ids[lo:hi] {
		p.Ciphers = append(p.Ciphers, clone(s.ciphers[id]))
	}
	return transport.Ok(p)
}

func (s *fakeServer) LastUpdate(context.Context) transport.Result[time.Time] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.failLocked(); err != nil {
		return transport.Fail[time.Time](st, err)
	}
	return transport.Ok(s.lastUpdate)
}

func (s *fakeServer) GetCipher(_ context.Context, id string) transport.Result[*vault.CipherRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.failLocked(); err != nil {
		return transport.Fail[*vault.CipherRecord](st, err)
	}
	s.getCalls++
	rec, ok := s.ciphers[id]
	if !ok {
		return transport.Fail[*vault.CipherRecord](transport.NotFound, errors.New("not found"))
	}
	return transport.Ok(clone(rec))
}

func (s *fakeServer) PostCipher(_ context.Context, rec *vault.CipherRecord) transport.Result[*vault.CipherRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.failLocked(); err != nil {
		return transport.Fail[*vault.CipherRecord](st, err)
	}
	if s.rejected[rec.ID] {
		return transport.Fail[*vault.CipherRecord](transport.BadData, errors.New("rejected"))
	}
	s.posts++
	s.nextID++
	out := clone(rec)
	out.ID = fmt.Sprintf("srv-%d", s.nextID)
	s.ciphers[out.ID] = out
	s.touch()
	return transport.Ok(clone(out))
}

func (s *fakeServer) PutCipher(_ context.Context, rec *vault.CipherRecord) transport.Result[*vault.CipherRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.failLocked(); err != nil {
		return transport.Fail[*vault.CipherRecord](st, err)
	}
	if s.putStatus != transport.OK {
		return transport.Fail[*vault.CipherRecord](s.putStatus, errors.New("rejected"))
	}
	if _, ok := s.ciphers[rec.ID]; !ok {
		return transport.Fail[*vault.CipherRecord](transport.NotFound, errors.New("not found"))
	}
	s.ciphers[rec.ID] = clone(rec)
	s.touch()
	return transport.Ok(clone(rec))
}

func (s *fakeServer) DeleteCipher(_ context.Context, id string) transport.Result[transport.Empty] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.failLocked(); err != nil {
		return transport.Fail[transport.Empty](st, err)
	}
	if _, ok := s.ciphers[id]; !ok {
		return transport.Fail[transport.Empty](transport.NotFound, errors.New("not found"))
	}
	delete(s.ciphers, id)
	s.touch()
	return transport.Ok(transport.Empty{})
}

func (s *fakeServer) PostPassword(context.Context, transport.PasswordRequest) transport.Result[transport.Empty] {
	return transport.Ok(transport.Empty{})
}

func clone(rec *vault.CipherRecord) *vault.CipherRecord {
	c := *rec
	return &c
}

// countingDecrypter returns a view per record without decrypting anything.
type countingDecrypter struct {
	mu      sync.Mutex
	batches int
	records int
}

func (d *countingDecrypter) DecryptBatch(_ context.Context, recs []*vault.CipherRecord, _ func(vault.Progress)) (*vault.BatchResult, error) {
	d.mu.Lock()
	d.batches++
	d.records += len(recs)
	d.mu.Unlock()
	res := &vault.BatchResult{Views: make(map[string]*vault.CipherView, len(recs))}
	for _, r := range recs {
		res.Views[r.ID] = &vault.CipherView{ID: r.ID, Type: r.Type}
	}
	return res, nil
}

// views mirrors what a view sink would hold.
type views struct {
	mu sync.Mutex
	m  map[string]*vault.CipherView
}

func (v *views) apply(u ViewUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if u.Full || v.m == nil {
		v.m = make(map[string]*vault.CipherView)
	}
	for _, id := range u.Removed {
		delete(v.m, id)
	}
	if u.Result != nil {
		maps.Copy(v.m, u.Result.Views)
	}
}

func (v *views) ids() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Sorted(maps.Keys(v.m))
}

// recorder collects events of every type.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func eventsOf[T events.Event](r *recorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, e := range r.events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type harness struct {
	server *fakeServer
	repo   storage.Repository
	cache  *vault.Cache
	queue  *queue.Queue
	bus    *events.Bus
	events *recorder
	dec    *countingDecrypter
	views  *views
	engine *Engine
}

func newHarness(t *testing.T, server *fakeServer, opts ...Option) *harness {
	t.Helper()
	return newHarnessOn(t, memory.NewRepository(), server, opts...)
}

func newHarnessOn(t *testing.T, repo storage.Repository, server *fakeServer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		server: server,
		repo:   repo,
		cache:  vault.NewCache(repo, "ciphers"),
		queue:  queue.New("sync", 1),
		bus:    events.NewBus(),
		events: &recorder{},
		dec:    &countingDecrypter{},
		views:  &views{},
	}
	h.bus.Subscribe(h.events.record)
	base := []Option{WithEventBus(h.bus), WithDecrypter(h.dec, h.views.apply)}
	e, err := NewEngine(server, h.cache, NewStateStore(repo, "sync"), h.queue, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

func (h *harness) cachedIDs(t *testing.T) []string {
	t.Helper()
	ids, err := h.cache.IDs()
	require.NoError(t, err)
	return ids
}

var testKey = func() *crypto.SymmetricKey {
	k, err := crypto.Default().GenerateSymmetricKey()
	if err != nil {
		panic(err)
	}
	return k
}()

func record(t *testing.T, id, name string, rev time.Time) *vault.CipherRecord {
	t.Helper()
	es, err := crypto.Default().EncryptToEncString([]byte(name), testKey)
	require.NoError(t, err)
	return &vault.CipherRecord{ID: id, Type: vault.TypeSecureNote, RevisionDate: rev, Name: es, SecureNote: &vault.SecureNote{}}
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
