package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/realtime"
	"github.com/jmcleod/ironkeep/transport"
)

// HandleNotification applies one push notification. Id-bearing cipher
// updates become targeted fetches, deletes are applied locally, logout ends
// the session and everything else triggers a full sync.
func (e *Engine) HandleNotification(ctx context.Context, n realtime.Notification) error {
	if n.Event == realtime.EventMembers {
		_, err := e.RequestSync(ctx, SyncOptions{})
		return err
	}
	ids := n.CipherIDs()

	switch n.Type {
	case realtime.TypeLogout:
		e.forceLogout("server requested logout")
		return nil
	case realtime.TypeCipherCreate, realtime.TypeCipherUpdate:
		if len(ids) == 0 {
			break
		}
		var errs []error
		for _, id := range ids {
			errs = append(errs, e.FetchCipher(ctx, id))
		}
		return errors.Join(errs...)
	case realtime.TypeCipherDelete:
		if len(ids) == 0 {
			break
		}
		return e.queue.Do(ctx, func(context.Context) error {
			var errs []error
			for _, id := range ids {
				errs = append(errs, e.deleteLocal(id))
			}
			return errors.Join(errs...)
		})
	}
	_, err := e.RequestSync(ctx, SyncOptions{})
	return err
}

// FetchCipher refreshes a single record from the server. Concurrent fetches
// of the same id share one request.
func (e *Engine) FetchCipher(ctx context.Context, id string) error {
	_, err, _ := e.fetches.Do(id, func() (any, error) {
		return nil, e.queue.Do(ctx, func(ctx context.Context) error {
			return e.fetch(ctx, id)
		})
	})
	return err
}

func (e *Engine) fetch(ctx context.Context, id string) error {
	if e.isPending(id) {
		e.logger.Debug("skipping fetch of pending cipher", slog.String("cipher_id", id))
		return nil
	}
	res := e.client.GetCipher(ctx, id)
	switch res.Status {
	case transport.OK:
		wrote, err := e.cache.Merge(res.Value)
		if err != nil {
			return err
		}
		if wrote {
			e.update(func() { e.lastCacheUpdate = e.clock() })
			e.persist()
			e.decryptOne(ctx, res.Value)
		}
		return nil
	case transport.NotFound:
		if uuid.IsTemp(id) {
			e.markOutdated(id)
			return &SyncError{Kind: DataOutdated, CipherID: id, Err: res.Err}
		}
		return e.deleteLocal(id)
	default:
		return e.resultError(res.Status, res.Err, id)
	}
}
