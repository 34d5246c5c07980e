// Package queue provides the bounded work queues the vault core schedules
// through: sync (one at a time), decrypt (bounded fan-out) and health
// (one at a time, newest request wins).
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/ironkeep/metrics"
)

var (
	// ErrDropped is returned for a task that was removed before it started.
	ErrDropped = errors.New("queue: task dropped before start")
	// ErrClosed is returned when adding to a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// Task is a unit of work. A started task always runs to completion; the
// context is the one passed to Add and is checked only before start.
type Task func(ctx context.Context) error

// Stats is a point-in-time view of a queue.
type Stats struct {
	Pending   int
	Active    int
	MaxActive int
	Completed uint64
	Dropped   uint64
}

// Job is a handle on a queued task.
type Job struct {
	ctx  context.Context
	task Task
	done chan struct{}
	err  error
}

// Done is closed when the job finished or was dropped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. Ending ctx does not stop
// a job that already started.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) finish(err error) {
	j.err = err
	close(j.done)
}

// Queue runs tasks on at most Concurrency goroutines in FIFO order.
type Queue struct {
	name        string
	concurrency int
	replace     bool
	logger      *slog.Logger
	recorder    metrics.Recorder

	mu        sync.Mutex
	pending   []*Job
	active    int
	maxActive int
	completed uint64
	dropped   uint64
	closed    bool
	idle      chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger for task failures.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithRecorder reports queue depth and task timings.
func WithRecorder(r metrics.Recorder) Option {
	return func(q *Queue) {
		q.recorder = r
	}
}

// WithReplace makes every Add first drop all tasks that have not started.
func WithReplace() Option {
	return func(q *Queue) {
		q.replace = true
	}
}

// New creates a queue. Concurrency below 1 is treated as 1.
func New(name string, concurrency int, opts ...Option) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{
		name:        name,
		concurrency: concurrency,
		logger:      slog.Default(),
		recorder:    metrics.Noop{},
		idle:        make(chan struct{}),
	}
	close(q.idle)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Add enqueues task and returns its handle.
func (q *Queue) Add(ctx context.Context, task Task) *Job {
	j := &Job{ctx: ctx, task: task, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.finish(ErrClosed)
		return j
	}
	var dropped []*Job
	if q.replace {
		dropped = q.takePendingLocked()
	}
	q.markBusyLocked()
	q.pending = append(q.pending, j)
	q.dispatchLocked()
	depth := len(q.pending)
	q.mu.Unlock()

	q.dropJobs(dropped)
	q.recorder.RecordQueueDepth(q.name, depth)
	return j
}

// Do enqueues task and waits for it.
func (q *Queue) Do(ctx context.Context, task Task) error {
	return q.Add(ctx, task).Wait(ctx)
}

// Clear drops every task that has not started. Running tasks are unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.takePendingLocked()
	q.signalIdleLocked()
	q.mu.Unlock()

	q.dropJobs(dropped)
	q.recorder.RecordQueueDepth(q.name, 0)
	return len(dropped)
}

// OnIdle blocks until nothing is pending or running.
func (q *Queue) OnIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.pending),
		Active:    q.active,
		MaxActive: q.maxActive,
		Completed: q.completed,
		Dropped:   q.dropped,
	}
}

// Close drops pending tasks and rejects new ones. Running tasks finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}

func (q *Queue) takePendingLocked() []*Job {
	dropped := q.pending
	q.pending = nil
	q.dropped += uint64(len(dropped))
	return dropped
}

func (q *Queue) dropJobs(jobs []*Job) {
	if len(jobs) == 0 {
		return
	}
	for _, j := range jobs {
		j.finish(ErrDropped)
	}
	q.recorder.RecordDropped(q.name, len(jobs))
}

func (q *Queue) markBusyLocked() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

func (q *Queue) signalIdleLocked() {
	if q.active > 0 || len(q.pending) > 0 {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *Queue) dispatchLocked() {
	for q.active < q.concurrency && len(q.pending) > 0 {
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		if err := j.ctx.Err(); err != nil {
			q.dropped++
			j.finish(err)
			continue
		}
		q.active++
		q.maxActive = max(q.maxActive, q.active)
		go q.run(j)
	}
	q.signalIdleLocked()
}

func (q *Queue) run(j *Job) {
	start := time.Now()
	err := q.call(j)
	q.recorder.RecordTask(q.name, time.Since(start), err)
	if err != nil {
		q.logger.Debug("queue task failed", slog.String("queue", q.name), slog.Any("error", err))
	}

	q.mu.Lock()
	q.active--
	q.completed++
	q.dispatchLocked()
	q.mu.Unlock()

	j.finish(err)
}

func (q *Queue) call(j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue %s: task panicked: %v", q.name, r)
		}
	}()
	return j.task(j.ctx)
}
