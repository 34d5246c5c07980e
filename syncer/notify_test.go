package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/realtime"
)

func syncedHarness(t *testing.T) *harness {
	t.Helper()
	server := newFakeServer(record(t, "a", "A", t0), record(t, "b", "B", t0))
	h := newHarness(t, server)
	_, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	return h
}

func mustParse(t *testing.T, msg string) realtime.Notification {
	t.Helper()
	n, err := realtime.Parse([]byte(msg))
	require.NoError(t, err)
	return n
}

func TestHandleNotification_UpdateFetchesOneCipher(t *testing.T) {
	h := syncedHarness(t)
	h.server.set(record(t, "a", "A2", t0.Add(time.Hour)))

	err := h.engine.HandleNotification(t.Context(), realtime.Notification{
		Event: realtime.EventSync,
		Type:  realtime.TypeCipherUpdate,
		Data:  realtime.Data{ID: "a"},
	})
	require.NoError(t, err)

	syncs, gets, _ := h.server.counts()
	assert.Equal(t, 1, syncs)
	assert.Equal(t, 1, gets)
	got, err := h.cache.Get("a")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), got.RevisionDate)
	assert.False(t, h.engine.State().LastCacheUpdate.IsZero())
}

func TestHandleNotification_DeleteIsLocal(t *testing.T) {
	h := syncedHarness(t)

	err := h.engine.HandleNotification(t.Context(), realtime.Notification{
		Event: realtime.EventSync,
		Type:  realtime.TypeCipherDelete,
		Data:  realtime.Data{IDs: []string{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Empty(t, h.cachedIDs(t))
	assert.Empty(t, h.views.ids())
	_, gets, _ := h.server.counts()
	assert.Zero(t, gets)
}

func TestHandleNotification_FallsBackToSync(t *testing.T) {
	for _, n := range []realtime.Notification{
		{Event: realtime.EventMembers},
		{Event: realtime.EventSync, Type: realtime.TypeVault},
		{Event: realtime.EventSync, Type: realtime.TypeCipherUpdate},
		{Event: realtime.EventSync, Type: "somethingNew"},
		mustParse(t, `{"type":"cipherUpdate","data":{"id":"a"}}`),
		mustParse(t, `{"event":"folders","type":"cipherDelete","data":{"id":"a"}}`),
	} {
		t.Run(string(n.Event)+"/"+string(n.Type), func(t *testing.T) {
			h := syncedHarness(t)
			h.server.set(record(t, "c", "C", t0))

			require.NoError(t, h.engine.HandleNotification(t.Context(), n))
			syncs, _, _ := h.server.counts()
			assert.Equal(t, 2, syncs)
			assert.Equal(t, []string{"a", "b", "c"}, h.cachedIDs(t))
		})
	}
}

func TestHandleNotification_Logout(t *testing.T) {
	h := syncedHarness(t)

	err := h.engine.HandleNotification(t.Context(), realtime.Notification{Event: realtime.EventSync, Type: realtime.TypeLogout})
	require.NoError(t, err)
	assert.Len(t, eventsOf[events.ForceLogout](h.events), 1)
}

func TestFetchCipher(t *testing.T) {
	t.Run("MissingCanonicalIsDeleted", func(t *testing.T) {
		h := syncedHarness(t)
		h.server.remove("a")

		require.NoError(t, h.engine.FetchCipher(t.Context(), "a"))
		assert.Equal(t, []string{"b"}, h.cachedIDs(t))
	})

	t.Run("MissingTemporaryIsOutdated", func(t *testing.T) {
		h := syncedHarness(t)
		id := uuid.NewTemp()

		err := h.engine.FetchCipher(t.Context(), id)
		require.ErrorIs(t, err, ErrDataOutdated)
		assert.Equal(t, []string{id}, h.engine.State().Outdated)
	})

	t.Run("PendingIsSkipped", func(t *testing.T) {
		h := syncedHarness(t)
		h.server.setOffline(true)
		_, err := h.engine.SaveCipher(t.Context(), record(t, "a", "local", t0.Add(time.Hour)))
		require.NoError(t, err)
		h.server.setOffline(false)

		require.NoError(t, h.engine.FetchCipher(t.Context(), "a"))
		_, gets, _ := h.server.counts()
		assert.Zero(t, gets)
	})

	t.Run("OlderIsIgnored", func(t *testing.T) {
		h := syncedHarness(t)
		batches := h.dec.batches

		require.NoError(t, h.engine.FetchCipher(t.Context(), "a"))
		assert.Equal(t, batches, h.dec.batches)
	})
}
