package client

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/health"
	"github.com/jmcleod/ironkeep/keyring"
	"github.com/jmcleod/ironkeep/queue"
	"github.com/jmcleod/ironkeep/syncer"
	"github.com/jmcleod/ironkeep/vault"
)

// Views returns the decrypted vault items sorted by name, then id.
func (c *Client) Views() []*vault.CipherView {
	views := c.viewList()
	slices.SortFunc(views, func(a, b *vault.CipherView) int {
		if n := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return views
}

// View returns one decrypted item.
func (c *Client) View(id string) (*vault.CipherView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[id]
	return v, ok
}

func (c *Client) viewList() []*vault.CipherView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Collect(maps.Values(c.views))
}

// applyViews is the sync engine's view sink.
func (c *Client) applyViews(u syncer.ViewUpdate) {
	c.mu.Lock()
	if u.Full {
		c.views = map[string]*vault.CipherView{}
	}
	if u.Result != nil {
		maps.Copy(c.views, u.Result.Views)
		for _, f := range u.Result.Failures {
			delete(c.views, f.CipherID)
		}
	}
	for _, id := range u.Removed {
		delete(c.views, id)
	}
	c.mu.Unlock()
	c.health.Request(context.Background())
}

func (c *Client) dropViews() {
	c.mu.Lock()
	empty := len(c.views) == 0
	c.views = map[string]*vault.CipherView{}
	c.mu.Unlock()
	if !empty {
		c.health.Request(context.Background())
	}
}

// SaveView encrypts v under its vault or organization key and saves it. A
// view without an id is created. The returned id is temporary while the
// server has not confirmed the create.
func (c *Client) SaveView(ctx context.Context, v *vault.CipherView) (string, error) {
	if err := vault.ValidateView(v); err != nil {
		return "", err
	}
	var rec *vault.CipherRecord
	err := c.keys.WithCipherKey(v.OrganizationID, func(k *crypto.SymmetricKey) error {
		var err error
		rec, err = vault.EncryptView(v, k)
		return err
	})
	if err != nil {
		return "", err
	}
	saved, err := c.engine.SaveCipher(ctx, rec)
	if saved == nil {
		return "", err
	}
	return saved.ID, err
}

// DeleteCipher deletes an item on the server and locally.
func (c *Client) DeleteCipher(ctx context.Context, id string) error {
	if c.keys.Snapshot().State == keyring.LoggedOut {
		return keyring.ErrNoAccount
	}
	return c.engine.DeleteCipher(ctx, id)
}

// Sync runs one sync. Without force the vault is only pulled when the
// server reports changes since the last sync.
func (c *Client) Sync(ctx context.Context, force bool) (syncer.Status, error) {
	if !c.hasToken() {
		return syncer.StatusIdle, ErrNotLoggedIn
	}
	return c.engine.RequestSync(ctx, syncer.SyncOptions{Force: force})
}

// ResetOutdated drops the outdated flags and replaces local copies with
// the server's.
func (c *Client) ResetOutdated(ctx context.Context) (syncer.Status, error) {
	if !c.hasToken() {
		return syncer.StatusIdle, ErrNotLoggedIn
	}
	return c.engine.ResetOutdated(ctx)
}

// NetworkRestored tells the client connectivity is back: the push
// connection is retried and pending changes are pushed.
func (c *Client) NetworkRestored(ctx context.Context) (syncer.Status, error) {
	c.listener.Reconnect()
	return c.Sync(ctx, false)
}

// Listen keeps the push connection up until ctx is done.
func (c *Client) Listen(ctx context.Context) error {
	return c.listener.Run(ctx)
}

// Connected reports whether the push connection is up.
func (c *Client) Connected() bool {
	return c.listener.Connected()
}

// Health returns the latest password health report.
func (c *Client) Health() health.Report {
	return c.health.Report()
}

// RecomputeHealth scores the current views and waits for the report.
func (c *Client) RecomputeHealth(ctx context.Context) (health.Report, error) {
	err := c.health.Request(ctx).Wait(ctx)
	if errors.Is(err, queue.ErrDropped) {
		// Replaced by a newer request; its report is the one we want.
		err = c.healthQueue.OnIdle(ctx)
	}
	if err != nil {
		return health.Report{}, err
	}
	return c.health.Report(), nil
}

// SubscribeHealth calls fn after every recompute.
func (c *Client) SubscribeHealth(fn func(health.Report)) (unsubscribe func()) {
	return c.health.Subscribe(fn)
}
