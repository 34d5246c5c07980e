// Package storagetest holds the behaviour every storage.Repository must
// share, run by each backend's tests.
package storagetest

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/storage"
)

type record struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
}

func mustEncode(t *testing.T, r record) *storage.Envelope {
	t.Helper()
	env, err := storage.Encode(r)
	require.NoError(t, err)
	return env
}

func decode(t *testing.T, env *storage.Envelope) record {
	t.Helper()
	var r record
	require.NoError(t, storage.Decode(env, &r))
	return r
}

// Run exercises repo against the Repository contract. newRepo must return an
// empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	const ns = "account-1"

	t.Run("PutGet", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ns, "cipher", "c1", mustEncode(t, record{Name: "a", Count: 1})))

		got, err := repo.Get(ns, "cipher", "c1")
		require.NoError(t, err)
		assert.Equal(t, record{Name: "a", Count: 1}, decode(t, got))

		got.Payload[0] ^= 0xff
		again, err := repo.Get(ns, "cipher", "c1")
		require.NoError(t, err)
		assert.Equal(t, record{Name: "a", Count: 1}, decode(t, again), "returned envelopes must not alias storage")
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get("missing", "cipher", "c1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, repo.Put(ns, "cipher", "c1", mustEncode(t, record{})))
		_, err = repo.Get(ns, "cipher", "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		repo := newRepo(t)
		for _, id := range []string{"c1", "c2"} {
			require.NoError(t, repo.Put(ns, "cipher", id, mustEncode(t, record{Name: id})))
		}
		require.NoError(t, repo.Put(ns, "key", "vault", mustEncode(t, record{})))

		ids, err := repo.List(ns, "cipher")
		require.NoError(t, err)
		slices.Sort(ids)
		assert.Equal(t, []string{"c1", "c2"}, ids)

		ids, err = repo.List("missing", "cipher")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ns, "cipher", "c1", mustEncode(t, record{})))
		require.NoError(t, repo.Delete(ns, "cipher", "c1"))
		_, err := repo.Get(ns, "cipher", "c1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ns, "cipher", "c1"), storage.ErrNotFound)
	})

	t.Run("Batch", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ns, "cipher", "keep", mustEncode(t, record{Name: "before"})))

		err := repo.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.Put("cipher", "c1", mustEncode(t, record{Name: "c1"})); err != nil {
				return err
			}
			return tx.Delete("cipher", "keep")
		})
		require.NoError(t, err)
		_, err = repo.Get(ns, "cipher", "c1")
		require.NoError(t, err)
		_, err = repo.Get(ns, "cipher", "keep")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		boom := errors.New("simulated error")
		err = repo.Batch(ns, func(tx storage.BatchTx) error {
			_ = tx.Put("cipher", "c2", mustEncode(t, record{}))
			_ = tx.Put("cipher", "c1", mustEncode(t, record{Name: "overwritten"}))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = repo.Get(ns, "cipher", "c2")
		assert.ErrorIs(t, err, storage.ErrNotFound, "failed batch must roll back")
		got, err := repo.Get(ns, "cipher", "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", decode(t, got).Name)
	})

	t.Run("Drop", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ns, "cipher", "c1", mustEncode(t, record{})))
		require.NoError(t, repo.Put("account-2", "cipher", "c1", mustEncode(t, record{})))

		require.NoError(t, repo.Drop(ns))
		ids, err := repo.List(ns, "cipher")
		require.NoError(t, err)
		assert.Empty(t, ids)
		_, err = repo.Get("account-2", "cipher", "c1")
		assert.NoError(t, err, "other namespaces are untouched")
		assert.NoError(t, repo.Drop("never-created"))
	})
}
