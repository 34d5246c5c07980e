package vault

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jmcleod/ironkeep/storage"
)

// Cache is the local encrypted cipher cache for one account. It stores
// CipherRecords exactly as received, so nothing in it is plaintext.
type Cache struct {
	repo      storage.Repository
	namespace string
	mu        sync.Mutex
}

// NewCache returns a cache over repo scoped to namespace. The cache owns the
// namespace; Clear drops all of it.
func NewCache(repo storage.Repository, namespace string) *Cache {
	return &Cache{repo: repo, namespace: namespace}
}

// Get returns the cached record or an error wrapping storage.ErrNotFound.
func (c *Cache) Get(id string) (*CipherRecord, error) {
	env, err := c.repo.Get(c.namespace, recordTypeCipher, id)
	if err != nil {
		return nil, err
	}
	var rec CipherRecord
	if err := storage.Decode(env, &rec); err != nil {
		return nil, fmt.Errorf("decoding cipher %s: %w", id, err)
	}
	// msgpack restores timestamps in time.Local.
	rec.RevisionDate = rec.RevisionDate.UTC()
	rec.DeletedDate = rec.DeletedDate.UTC()
	return &rec, nil
}

// Put stores rec unconditionally.
func (c *Cache) Put(rec *CipherRecord) error {
	env, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Put(c.namespace, recordTypeCipher, rec.ID, env)
}

// Merge stores rec when nothing is cached under its id or rec is strictly
// newer by revision date. It reports whether rec was written.
func (c *Cache) Merge(rec *CipherRecord) (bool, error) {
	env, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, err := c.Get(rec.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return false, err
	case !rec.RevisionDate.After(existing.RevisionDate):
		return false, nil
	}
	if err := c.repo.Put(c.namespace, recordTypeCipher, rec.ID, env); err != nil {
		return false, err
	}
	return true, nil
}

// Replace atomically swaps the record stored under oldID for rec, which
// carries its new id.
func (c *Cache) Replace(oldID string, rec *CipherRecord) error {
	env, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Batch(c.namespace, func(tx storage.BatchTx) error {
		if err := tx.Delete(recordTypeCipher, oldID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return tx.Put(recordTypeCipher, rec.ID, env)
	})
}

// Delete removes a record. Deleting a missing record is not an error.
func (c *Cache) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.repo.Delete(c.namespace, recordTypeCipher, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// IDs returns the ids of every cached record in sorted order.
func (c *Cache) IDs() ([]string, error) {
	ids, err := c.repo.List(c.namespace, recordTypeCipher)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// List returns every cached record ordered by id.
func (c *Cache) List() ([]*CipherRecord, error) {
	ids, err := c.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]*CipherRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := c.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear removes every cached record.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Drop(c.namespace)
}

func encodeRecord(rec *CipherRecord) (*storage.Envelope, error) {
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}
	env, err := storage.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding cipher %s: %w", rec.ID, err)
	}
	return env, nil
}
