package vault

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/metrics"
	"github.com/jmcleod/ironkeep/queue"
)

// KeyProvider hands out the key for a cipher. An empty orgID selects the
// vault key. The key is only valid inside fn.
type KeyProvider interface {
	WithCipherKey(orgID string, fn func(*crypto.SymmetricKey) error) error
}

// Progress is reported after each record of a batch settles.
type Progress struct {
	Done  int
	Total int
}

// Failure is a record that could not be decrypted.
type Failure struct {
	CipherID string
	Err      error
}

// BatchResult is the outcome of one DecryptBatch call.
type BatchResult struct {
	Batch    uint64
	Views    map[string]*CipherView
	Failures []Failure
}

// Pipeline decrypts batches of records on the decrypt queue.
type Pipeline struct {
	keys     KeyProvider
	queue    *queue.Queue
	bus      *events.Bus
	svc      *crypto.Service
	logger   *slog.Logger
	recorder metrics.Recorder
	seq      atomic.Uint64
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func WithRecorder(r metrics.Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithService sets the crypto service used for field decryption.
func WithService(s *crypto.Service) PipelineOption {
	return func(p *Pipeline) {
		p.svc = s
	}
}

// NewPipeline returns a pipeline that schedules on q and publishes on bus.
// A nil bus disables events.
func NewPipeline(keys KeyProvider, q *queue.Queue, bus *events.Bus, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		keys:     keys,
		queue:    q,
		bus:      bus,
		svc:      crypto.Default(),
		logger:   slog.Default(),
		recorder: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DecryptBatch decrypts records concurrently, bounded by the decrypt queue.
// Per-record failures are collected in the result. The batch as a whole
// fails only when the vault key is unavailable or ctx ends before every
// record was scheduled. onProgress may be nil; calls to it are serialized.
// Exactly one events.BatchDecrypted is published per call.
func (p *Pipeline) DecryptBatch(ctx context.Context, records []*CipherRecord, onProgress func(Progress)) (*BatchResult, error) {
	res := &BatchResult{
		Batch: p.seq.Add(1),
		Views: make(map[string]*CipherView, len(records)),
	}

	err := p.keys.WithCipherKey("", func(*crypto.SymmetricKey) error { return nil })
	if err != nil {
		for _, rec := range records {
			res.Failures = append(res.Failures, Failure{CipherID: rec.ID, Err: err})
		}
		p.finish(res)
		return res, &DecryptError{Kind: KeyUnavailable, Err: err}
	}

	views := make([]*CipherView, len(records))
	errs := make([]error, len(records))
	jobs := make([]*queue.Job, len(records))

	var mu sync.Mutex
	done := 0
	report := func() {
		if onProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		onProgress(Progress{Done: done, Total: len(records)})
	}

	for i, rec := range records {
		jobs[i] = p.queue.Add(ctx, func(context.Context) error {
			defer report()
			views[i], errs[i] = p.decryptOne(rec)
			return errs[i]
		})
	}

	for i, j := range jobs {
		<-j.Done()
		if views[i] == nil && errs[i] == nil {
			// Dropped before start.
			errs[i] = j.Wait(context.Background())
		}
	}

	for i, rec := range records {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{CipherID: rec.ID, Err: errs[i]})
			p.logger.Warn("cipher decryption failed", slog.String("cipher_id", rec.ID), slog.Any("error", errs[i]))
			continue
		}
		res.Views[rec.ID] = views[i]
	}
	p.finish(res)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) decryptOne(rec *CipherRecord) (*CipherView, error) {
	var view *CipherView
	err := p.keys.WithCipherKey(rec.OrganizationID, func(k *crypto.SymmetricKey) error {
		var err error
		view, err = decryptRecord(p.svc, rec, k)
		return err
	})
	if err != nil {
		if _, ok := errors.AsType[*DecryptError](err); !ok {
			err = &DecryptError{Kind: KeyUnavailable, CipherID: rec.ID, Err: err}
		}
		return nil, err
	}
	return view, nil
}

func (p *Pipeline) finish(res *BatchResult) {
	p.recorder.RecordDecrypted(len(res.Views), len(res.Failures))
	if p.bus != nil {
		p.bus.Publish(events.BatchDecrypted{
			Batch:     res.Batch,
			Succeeded: len(res.Views),
			Failed:    len(res.Failures),
		})
	}
}
