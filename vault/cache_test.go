package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/storage"
	"github.com/jmcleod/ironkeep/storage/memory"
)

func TestCache(t *testing.T) {
	key := newKey(t)
	c := NewCache(memory.NewRepository(), "user-1")

	rec := encrypted(t, loginView(1), key)
	require.NoError(t, c.Put(rec))

	got, err := c.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name.String(), got.Name.String())
	assert.True(t, rec.RevisionDate.Equal(got.RevisionDate))

	view, err := DecryptOne(got, key)
	require.NoError(t, err, "cached record still decrypts")
	assert.Equal(t, "hunter1", view.Login.Password)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	t.Run("Merge", func(t *testing.T) {
		older := *rec
		older.RevisionDate = rec.RevisionDate.Add(-time.Hour)
		wrote, err := c.Merge(&older)
		require.NoError(t, err)
		assert.False(t, wrote, "older revision must not overwrite")

		same := *rec
		wrote, err = c.Merge(&same)
		require.NoError(t, err)
		assert.False(t, wrote, "equal revision must not overwrite")

		newer := encrypted(t, loginView(1), key)
		newer.RevisionDate = rec.RevisionDate.Add(time.Hour)
		wrote, err = c.Merge(newer)
		require.NoError(t, err)
		assert.True(t, wrote)

		fresh := encrypted(t, loginView(2), key)
		wrote, err = c.Merge(fresh)
		require.NoError(t, err)
		assert.True(t, wrote)
	})

	t.Run("Replace", func(t *testing.T) {
		tmp := encrypted(t, loginView(3), key)
		tmp.ID = "tmp_abc"
		require.NoError(t, c.Put(tmp))

		confirmed := *tmp
		confirmed.ID = "server-3"
		require.NoError(t, c.Replace("tmp_abc", &confirmed))

		_, err := c.Get("tmp_abc")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = c.Get("server-3")
		assert.NoError(t, err)
	})

	t.Run("List", func(t *testing.T) {
		ids, err := c.IDs()
		require.NoError(t, err)
		assert.Equal(t, []string{"cipher-0001", "cipher-0002", "server-3"}, ids)

		recs, err := c.List()
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "server-3", recs[2].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Delete("server-3"))
		require.NoError(t, c.Delete("server-3"), "deleting twice is fine")
	})

	t.Run("Validation", func(t *testing.T) {
		bad := *rec
		bad.ID = "a:b"
		assert.ErrorIs(t, c.Put(&bad), ErrValidation)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, c.Clear())
		ids, err := c.IDs()
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestCacheTimestampsStayUTC(t *testing.T) {
	c := NewCache(memory.NewRepository(), "user-1")
	rec := encrypted(t, loginView(1), newKey(t))
	rec.RevisionDate = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	rec.DeletedDate = time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(rec))

	got, err := c.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.RevisionDate, got.RevisionDate)
	assert.Equal(t, rec.DeletedDate, got.DeletedDate)
	assert.Equal(t, time.UTC, got.RevisionDate.Location())

	live := encrypted(t, loginView(2), newKey(t))
	require.NoError(t, c.Put(live))
	got, err = c.Get(live.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Time{}, got.DeletedDate)
}
