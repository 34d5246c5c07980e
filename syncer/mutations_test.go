package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/internal/uuid"
	"github.com/jmcleod/ironkeep/transport"
	"github.com/jmcleod/ironkeep/vault"
)

func TestRequestSync_PushKeepsOnlyFailedCreates(t *testing.T) {
	server := newFakeServer()
	server.setOffline(true)
	h := newHarness(t, server)

	a, err := h.engine.SaveCipher(t.Context(), record(t, "", "A", time.Time{}))
	require.NoError(t, err)
	b, err := h.engine.SaveCipher(t.Context(), record(t, "", "B", time.Time{}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, h.engine.State().NotSynced)

	server.setOffline(false)
	server.rejectPost(b.ID, true)
	status, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, status)
	assert.Equal(t, []string{b.ID}, h.engine.State().NotSynced)
	assert.ElementsMatch(t, []string{"srv-1", b.ID}, h.cachedIDs(t))

	server.rejectPost(b.ID, false)
	_, err = h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, h.engine.State().NotSynced)
	assert.Equal(t, []string{"srv-1", "srv-2"}, h.cachedIDs(t))
}

func TestSaveCipher_CreateOnline(t *testing.T) {
	server := newFakeServer()
	h := newHarness(t, server)

	saved, err := h.engine.SaveCipher(t.Context(), record(t, "", "new", t0))
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID)
	assert.Equal(t, []string{"srv-1"}, h.cachedIDs(t))
	assert.Equal(t, []string{"srv-1"}, h.views.ids())
	assert.Empty(t, h.engine.State().NotSynced)

	replaced := eventsOf[events.CipherIDReplaced](h.events)
	require.Len(t, replaced, 1)
	assert.True(t, uuid.IsTemp(replaced[0].OldID))
	assert.Equal(t, "srv-1", replaced[0].NewID)
}

func TestSaveCipher_OfflineCreateIsPushedLater(t *testing.T) {
	server := newFakeServer()
	server.setOffline(true)
	h := newHarness(t, server)

	saved, err := h.engine.SaveCipher(t.Context(), record(t, "", "draft", time.Time{}))
	require.NoError(t, err)
	require.True(t, uuid.IsTemp(saved.ID))
	assert.False(t, saved.RevisionDate.IsZero())
	assert.Equal(t, []string{saved.ID}, h.engine.State().NotSynced)
	assert.Equal(t, []string{saved.ID}, h.cachedIDs(t))
	assert.Equal(t, []string{saved.ID}, h.views.ids())

	status, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, status)
	assert.Equal(t, []string{saved.ID}, h.engine.State().NotSynced)

	server.setOffline(false)
	status, err = h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, status)

	st := h.engine.State()
	assert.Empty(t, st.NotSynced)
	assert.Equal(t, []string{"srv-1"}, h.cachedIDs(t))
	assert.Equal(t, []string{"srv-1"}, h.views.ids())
	_, _, posts := server.counts()
	assert.Equal(t, 1, posts)
}

func TestSaveCipher_Update(t *testing.T) {
	server := newFakeServer(record(t, "a", "A", t0))
	h := newHarness(t, server)
	_, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)

	server.setOffline(true)
	_, err = h.engine.SaveCipher(t.Context(), record(t, "a", "edited", t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, h.engine.State().NotUpdated)

	server.setOffline(false)
	_, err = h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, h.engine.State().NotUpdated)

	server.mu.Lock()
	rev := server.ciphers["a"].RevisionDate
	server.mu.Unlock()
	assert.Equal(t, t0.Add(time.Hour), rev)
}

func TestSaveCipher_PendingEditSurvivesPull(t *testing.T) {
	server := newFakeServer(record(t, "a", "A", t0))
	h := newHarness(t, server)
	_, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)

	server.mu.Lock()
	server.putStatus = transport.BadData
	server.mu.Unlock()

	local, err := h.engine.SaveCipher(t.Context(), record(t, "a", "local", t0.Add(time.Hour)))
	require.ErrorIs(t, err, ErrServerRejected)
	require.NotNil(t, local)
	assert.Equal(t, []string{"a"}, h.engine.State().NotUpdated)

	server.set(record(t, "a", "server", t0.Add(2*time.Hour)))
	status, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, status)

	got, err := h.cache.Get("a")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), got.RevisionDate)
	assert.Equal(t, []string{"a"}, h.engine.State().NotUpdated)
}

func TestSaveCipher_DataOutdated(t *testing.T) {
	server := newFakeServer(record(t, "a", "A", t0))
	h := newHarness(t, server)
	_, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)

	server.remove("a")
	_, err = h.engine.SaveCipher(t.Context(), record(t, "a", "edited", t0.Add(time.Hour)))
	require.ErrorIs(t, err, ErrDataOutdated)
	assert.Equal(t, []string{"a"}, h.engine.State().Outdated)

	outdated := eventsOf[events.DataOutdated](h.events)
	require.Len(t, outdated, 1)
	assert.Equal(t, "a", outdated[0].CipherID)

	// Further edits are refused locally.
	_, err = h.engine.SaveCipher(t.Context(), record(t, "a", "again", t0.Add(2*time.Hour)))
	require.ErrorIs(t, err, ErrDataOutdated)

	status, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusOutdated, status)
	assert.Equal(t, []string{"a"}, h.cachedIDs(t))

	status, err = h.engine.ResetOutdated(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, status)
	assert.Empty(t, h.engine.State().Outdated)
	assert.Empty(t, h.cachedIDs(t))
}

func TestSaveCipher_UnknownTemporaryID(t *testing.T) {
	h := newHarness(t, newFakeServer())

	_, err := h.engine.SaveCipher(t.Context(), record(t, uuid.NewTemp(), "stale", t0))
	require.ErrorIs(t, err, ErrDataOutdated)
	assert.Len(t, h.engine.State().Outdated, 1)
	_, _, posts := h.server.counts()
	assert.Zero(t, posts)
}

func TestSaveCipher_Validation(t *testing.T) {
	h := newHarness(t, newFakeServer())

	rec := record(t, "", "x", t0)
	rec.Name = crypto.EncString{}
	_, err := h.engine.SaveCipher(t.Context(), rec)
	require.ErrorIs(t, err, vault.ErrValidation)
	assert.Empty(t, h.cachedIDs(t))
}

func TestDeleteCipher(t *testing.T) {
	server := newFakeServer(record(t, "a", "A", t0), record(t, "b", "B", t0))
	h := newHarness(t, server)
	_, err := h.engine.RequestSync(t.Context(), SyncOptions{})
	require.NoError(t, err)

	require.NoError(t, h.engine.DeleteCipher(t.Context(), "a"))
	assert.Equal(t, []string{"b"}, h.cachedIDs(t))
	assert.Equal(t, []string{"b"}, h.views.ids())
	server.mu.Lock()
	_, onServer := server.ciphers["a"]
	server.mu.Unlock()
	assert.False(t, onServer)

	t.Run("AlreadyGone", func(t *testing.T) {
		server.remove("b")
		require.NoError(t, h.engine.DeleteCipher(t.Context(), "b"))
		assert.Empty(t, h.cachedIDs(t))
	})

	t.Run("Offline", func(t *testing.T) {
		server.set(record(t, "c", "C", t0))
		_, err := h.engine.RequestSync(t.Context(), SyncOptions{})
		require.NoError(t, err)

		server.setOffline(true)
		defer server.setOffline(false)
		err = h.engine.DeleteCipher(t.Context(), "c")
		require.ErrorIs(t, err, ErrNetworkUnavailable)
		assert.Equal(t, []string{"c"}, h.cachedIDs(t))
	})

	t.Run("UnsyncedCreate", func(t *testing.T) {
		server.setOffline(true)
		defer server.setOffline(false)
		saved, err := h.engine.SaveCipher(t.Context(), record(t, "", "draft", t0))
		require.NoError(t, err)

		require.NoError(t, h.engine.DeleteCipher(t.Context(), saved.ID))
		assert.Empty(t, h.engine.State().NotSynced)
		assert.NotContains(t, h.cachedIDs(t), saved.ID)
	})
}
