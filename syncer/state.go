package syncer

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jmcleod/ironkeep/storage"
)

// Status is the outcome of the last sync run.
type Status int

const (
	StatusIdle Status = iota
	StatusSynced
	StatusSkipped
	StatusOffline
	StatusFailed
	StatusOutdated
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSynced:
		return "synced"
	case StatusSkipped:
		return "skipped"
	case StatusOffline:
		return "offline"
	case StatusFailed:
		return "failed"
	case StatusOutdated:
		return "outdated"
	default:
		return "unknown"
	}
}

// State is the observable sync state. A cipher id is in at most one of
// NotSynced, NotUpdated and Outdated; ids leave a set only when the server
// confirms the change or the user resets.
type State struct {
	LastSync          time.Time
	LastCacheUpdate   time.Time
	IsSyncing         bool
	IsBatchDecrypting bool
	// NotSynced holds temporary ids of records created locally and not yet
	// accepted by the server.
	NotSynced []string
	// NotUpdated holds ids of records edited locally and not yet accepted.
	NotUpdated []string
	// Outdated holds ids the server no longer recognizes.
	Outdated []string
	Status   Status
}

type idSet map[string]struct{}

func newIDSet(ids []string) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

const (
	recordTypeSync = "SYNC"
	stateRecordID  = "state"
)

type persistedState struct {
	LastSync        time.Time `msgpack:"last_sync"`
	LastCacheUpdate time.Time `msgpack:"last_cache_update"`
	NotSynced       []string  `msgpack:"not_synced"`
	NotUpdated      []string  `msgpack:"not_updated"`
	Outdated        []string  `msgpack:"outdated"`
}

// StateStore persists sync bookkeeping so offline changes survive restarts.
type StateStore struct {
	repo      storage.Repository
	namespace string
}

func NewStateStore(repo storage.Repository, namespace string) *StateStore {
	return &StateStore{repo: repo, namespace: namespace}
}

func (s *StateStore) load() (persistedState, error) {
	env, err := s.repo.Get(s.namespace, recordTypeSync, stateRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		return persistedState{}, nil
	}
	if err != nil {
		return persistedState{}, err
	}
	var ps persistedState
	if err := storage.Decode(env, &ps); err != nil {
		return persistedState{}, fmt.Errorf("decoding sync state: %w", err)
	}
	ps.LastSync = ps.LastSync.UTC()
	ps.LastCacheUpdate = ps.LastCacheUpdate.UTC()
	return ps, nil
}

func (s *StateStore) save(ps persistedState) error {
	env, err := storage.Encode(ps)
	if err != nil {
		return err
	}
	return s.repo.Put(s.namespace, recordTypeSync, stateRecordID, env)
}

func (s *StateStore) clear() error {
	err := s.repo.Delete(s.namespace, recordTypeSync, stateRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
