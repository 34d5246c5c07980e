package vault

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/queue"
)

func TestDecryptBatch(t *testing.T) {
	key := newKey(t)
	keys := &staticKeys{keys: map[string]*crypto.SymmetricKey{"": key}}

	records := make([]*CipherRecord, 1000)
	for i := range records {
		records[i] = encrypted(t, loginView(i), key)
	}
	corrupted := map[string]bool{}
	for _, i := range []int{3, 500, 999} {
		records[i].Name = corruptMAC(records[i].Name)
		corrupted[records[i].ID] = true
	}

	bus := events.NewBus()
	var got []events.BatchDecrypted
	events.On(bus, func(e events.BatchDecrypted) { got = append(got, e) })

	q := queue.New("decrypt", 8)
	p := NewPipeline(keys, q, bus)

	var (
		mu       sync.Mutex
		progress []Progress
	)
	res, err := p.DecryptBatch(t.Context(), records, func(pr Progress) {
		mu.Lock()
		progress = append(progress, pr)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Len(t, res.Views, 997)
	require.Len(t, res.Failures, 3)
	for _, f := range res.Failures {
		assert.True(t, corrupted[f.CipherID], "unexpected failure %s", f.CipherID)
		assert.ErrorIs(t, f.Err, ErrFieldFailed)
		assert.NotContains(t, res.Views, f.CipherID)
	}
	assert.Equal(t, "hunter42", res.Views["cipher-0042"].Login.Password)

	require.Len(t, got, 1)
	assert.Equal(t, events.BatchDecrypted{Batch: res.Batch, Succeeded: 997, Failed: 3}, got[0])

	require.Len(t, progress, 1000)
	for i, pr := range progress {
		assert.Equal(t, i+1, pr.Done)
		assert.Equal(t, 1000, pr.Total)
	}

	st := q.Stats()
	assert.LessOrEqual(t, st.MaxActive, 8)
	assert.Equal(t, uint64(1000), st.Completed)
}

func TestDecryptBatchKeyUnavailable(t *testing.T) {
	key := newKey(t)
	records := []*CipherRecord{encrypted(t, loginView(1), key)}

	bus := events.NewBus()
	var n int
	events.On(bus, func(events.BatchDecrypted) { n++ })

	p := NewPipeline(&staticKeys{}, queue.New("decrypt", 4), bus)
	res, err := p.DecryptBatch(t.Context(), records, nil)
	require.ErrorIs(t, err, ErrKeyUnavailable)
	assert.Empty(t, res.Views)
	assert.Len(t, res.Failures, 1)
	assert.Equal(t, 1, n)
}

func TestDecryptBatchOrganizationKeys(t *testing.T) {
	vaultKey, orgKey := newKey(t), newKey(t)
	keys := &staticKeys{keys: map[string]*crypto.SymmetricKey{"": vaultKey, "org-1": orgKey}}

	personal := encrypted(t, loginView(1), vaultKey)
	shared := loginView(2)
	shared.OrganizationID = "org-1"
	sharedRec := encrypted(t, shared, orgKey)
	orphan := loginView(3)
	orphan.OrganizationID = "org-gone"
	orphanRec := encrypted(t, orphan, orgKey)

	p := NewPipeline(keys, queue.New("decrypt", 4), nil)
	res, err := p.DecryptBatch(t.Context(), []*CipherRecord{personal, sharedRec, orphanRec}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Views, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, orphanRec.ID, res.Failures[0].CipherID)
	assert.ErrorIs(t, res.Failures[0].Err, ErrKeyUnavailable)
}

func TestDecryptBatchCancelled(t *testing.T) {
	key := newKey(t)
	keys := &staticKeys{keys: map[string]*crypto.SymmetricKey{"": key}}
	records := []*CipherRecord{encrypted(t, loginView(1), key), encrypted(t, loginView(2), key)}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	bus := events.NewBus()
	var n int
	events.On(bus, func(events.BatchDecrypted) { n++ })

	p := NewPipeline(keys, queue.New("decrypt", 1), bus)
	res, err := p.DecryptBatch(ctx, records, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Views)
	assert.Len(t, res.Failures, 2)
	assert.Equal(t, 1, n)
}

func TestDecryptBatchSequence(t *testing.T) {
	key := newKey(t)
	p := NewPipeline(&staticKeys{keys: map[string]*crypto.SymmetricKey{"": key}}, queue.New("decrypt", 2), nil)
	a, err := p.DecryptBatch(t.Context(), nil, nil)
	require.NoError(t, err)
	b, err := p.DecryptBatch(t.Context(), nil, nil)
	require.NoError(t, err)
	assert.Greater(t, b.Batch, a.Batch)
	assert.Empty(t, b.Views)
}
