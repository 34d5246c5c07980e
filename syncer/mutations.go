package syncer

import (
	"context"
	"errors"

	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/storage"
	"github.com/jmcleod/ironkeep/transport"
	"github.com/jmcleod/ironkeep/vault"
)

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// SaveCipher stores an encrypted record locally and pushes it. A record
// without an id is a create and gets a temporary id until the server
// confirms it. When the server cannot be reached the record stays in the
// cache, is tracked as unconfirmed and SaveCipher returns it without error.
func (e *Engine) SaveCipher(ctx context.Context, rec *vault.CipherRecord) (*vault.CipherRecord, error) {
	var out *vault.CipherRecord
	err := e.queue.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.save(ctx, rec)
		return err
	})
	return out, err
}

func (e *Engine) save(ctx context.Context, in *vault.CipherRecord) (*vault.CipherRecord, error) {
	rec := *in
	isNew := rec.ID == ""
	if isNew {
		rec.ID = uuid.NewTemp()
	}
	if rec.RevisionDate.IsZero() {
		rec.RevisionDate = e.clock()
	}
	if err := vault.ValidateRecord(&rec); err != nil {
		return nil, err
	}

	e.mu.Lock()
	outdated := e.outdated.has(rec.ID)
	pendingCreate := e.notSynced.has(rec.ID)
	e.mu.Unlock()

	if outdated {
		return nil, &SyncError{Kind: DataOutdated, CipherID: rec.ID}
	}

	if uuid.IsTemp(rec.ID) {
		if !isNew && !pendingCreate {
			// A temporary id that is no longer waiting for its create: the
			// server can never know it.
			if err := e.cache.Put(&rec); err != nil {
				return nil, err
			}
			e.markOutdated(rec.ID)
			return nil, &SyncError{Kind: DataOutdated, CipherID: rec.ID}
		}
		if err := e.cache.Put(&rec); err != nil {
			return nil, err
		}
		e.update(func() { e.markLocked(e.notSynced, rec.ID) })
		e.persist()
		e.decryptOne(ctx, &rec)

		confirmed, err := e.create(ctx, &rec)
		return settle(&rec, confirmed, err)
	}

	if err := e.cache.Put(&rec); err != nil {
		return nil, err
	}
	e.update(func() { e.markLocked(e.notUpdated, rec.ID) })
	e.persist()
	e.decryptOne(ctx, &rec)

	confirmed, err := e.updateRemote(ctx, &rec)
	return settle(&rec, confirmed, err)
}

// settle returns the confirmed record, or the local one when the push has
// to wait for connectivity.
func settle(local, confirmed *vault.CipherRecord, err error) (*vault.CipherRecord, error) {
	switch {
	case err == nil:
		return confirmed, nil
	case errors.Is(err, ErrNetworkUnavailable):
		return local, nil
	default:
		return local, err
	}
}

// DeleteCipher deletes a record on the server and then locally. Records
// that never reached the server are only deleted locally.
func (e *Engine) DeleteCipher(ctx context.Context, id string) error {
	return e.queue.Do(ctx, func(ctx context.Context) error {
		if !uuid.IsTemp(id) {
			res := e.client.DeleteCipher(ctx, id)
			switch res.Status {
			case transport.OK, transport.NotFound:
			default:
				return e.resultError(res.Status, res.Err, id)
			}
		}
		return e.deleteLocal(id)
	})
}

func (e *Engine) deleteLocal(id string) error {
	if err := e.cache.Delete(id); err != nil {
		return err
	}
	e.update(func() {
		e.confirmLocked(id)
		e.lastCacheUpdate = e.clock()
	})
	e.persist()
	e.emit(ViewUpdate{Removed: []string{id}})
	return nil
}

// ResetOutdated is the user-initiated recovery for outdated data: the
// outdated flags are dropped and a forced full sync replaces local copies
// with the server's view.
func (e *Engine) ResetOutdated(ctx context.Context) (Status, error) {
	err := e.queue.Do(ctx, func(context.Context) error {
		e.update(func() { e.outdated = idSet{} })
		e.persist()
		return nil
	})
	if err != nil {
		return StatusIdle, err
	}
	return e.RequestSync(ctx, SyncOptions{Force: true})
}
