package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/storage"
	"github.com/jmcleod/ironkeep/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cache.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func TestBBoltStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return newTestStore(t)
	})
}

func TestListSkipsShorterKeys(t *testing.T) {
	s := newTestStore(t)
	env, err := storage.Encode("x")
	require.NoError(t, err)
	require.NoError(t, s.Put("ns", "Z", "", env))
	require.NoError(t, s.Put("ns", "cipher", "c1", env))

	ids, err := s.List("ns", "cipher")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, ids)
}

func TestNewRepositoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.db")
	repo, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)

	env, err := storage.Encode(map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, repo.Put("ns", "state", "sync", env))
	require.NoError(t, repo.Close())

	reopened, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get("ns", "state", "sync")
	require.NoError(t, err)
	var m map[string]int
	require.NoError(t, storage.Decode(got, &m))
	require.Equal(t, 1, m["n"])

	_, err = NewRepositoryFromFile("/nonexistent/path/to/db", nil)
	require.Error(t, err)
}
