// Package memory keeps a storage.Repository in process memory. Clients that
// must not leave anything on disk use it; so do the tests.
package memory

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jmcleod/ironkeep/storage"
)

// records holds one namespace: record type -> record id -> envelope.
type records map[string]map[string]*storage.Envelope

func (r records) clone() records {
	out := make(records, len(r))
	for typ, byID := range r {
		cp := make(map[string]*storage.Envelope, len(byID))
		for id, env := range byID {
			cp[id] = env.Clone()
		}
		out[typ] = cp
	}
	return out
}

func (r records) put(recordType, recordID string, env *storage.Envelope) {
	byID, ok := r[recordType]
	if !ok {
		byID = make(map[string]*storage.Envelope)
		r[recordType] = byID
	}
	byID[recordID] = env.Clone()
}

func (r records) delete(recordType, recordID string) error {
	if _, ok := r[recordType][recordID]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(r[recordType], recordID)
	return nil
}

// Repository is a concurrency-safe in-memory storage.Repository. Envelopes
// are copied on the way in and out, so callers never alias stored bytes.
type Repository struct {
	mu         sync.RWMutex
	namespaces map[string]records
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{namespaces: make(map[string]records)}
}

func (r *Repository) namespace(name string) records {
	ns, ok := r.namespaces[name]
	if !ok {
		ns = make(records)
		r.namespaces[name] = ns
	}
	return ns
}

func (r *Repository) Put(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespace(namespace).put(recordType, recordID, envelope)
	return nil
}

func (r *Repository) Get(namespace, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.namespaces[namespace][recordType][recordID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return env.Clone(), nil
}

// List returns the record ids of recordType in ascending order, matching
// the key order of the bbolt backend.
func (r *Repository) List(namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.namespaces[namespace][recordType])), nil
}

func (r *Repository) Delete(namespace, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.namespaces[namespace]
	if !ok {
		return fmt.Errorf("%s: %w", namespace, storage.ErrNotFound)
	}
	return ns.delete(recordType, recordID)
}

func (r *Repository) Drop(namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.namespaces, namespace)
	return nil
}

// Batch runs fn against a copy of the namespace and swaps it in only when
// fn succeeds.
func (r *Repository) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.namespaces[namespace].clone()
	if err := fn(batchTx{work}); err != nil {
		return err
	}
	r.namespaces[namespace] = work
	return nil
}

type batchTx struct {
	ns records
}

func (tx batchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	tx.ns.put(recordType, recordID, envelope)
	return nil
}

func (tx batchTx) Delete(recordType, recordID string) error {
	return tx.ns.delete(recordType, recordID)
}
