package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmcleod/ironkeep/metrics"
)

// DefaultReconnectDelay is the pause before the single automatic reconnect
// after a connection closes.
const DefaultReconnectDelay = 30 * time.Second

// Conn is an open push channel.
type Conn interface {
	// Read blocks for the next message.
	Read() ([]byte, error)
	Close() error
}

// Dialer opens push channels.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Handler applies one notification.
type Handler func(ctx context.Context, n Notification) error

// Listener keeps the push channel open and hands every notification to its
// handler. After a connection closes it reconnects once, after the
// reconnect delay, and only while online and authenticated. Any further
// attempt waits for Reconnect.
type Listener struct {
	dialer    Dialer
	handler   Handler
	logger    *slog.Logger
	recorder  metrics.Recorder
	delay     time.Duration
	limiter   *rate.Limiter
	online    func() bool
	authed    func() bool
	onConnect func(ctx context.Context)

	trigger   chan struct{}
	connected atomic.Bool
}

// Option configures a Listener.
type Option func(*Listener)

func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) {
		ln.logger = l
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(ln *Listener) {
		ln.recorder = r
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(ln *Listener) {
		ln.delay = d
	}
}

// WithDialLimit bounds how often the listener dials, whatever triggers it.
func WithDialLimit(limit rate.Limit, burst int) Option {
	return func(ln *Listener) {
		ln.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithOnline reports device connectivity. Defaults to always online.
func WithOnline(fn func() bool) Option {
	return func(ln *Listener) {
		ln.online = fn
	}
}

// WithAuthenticated reports whether the session may still connect.
func WithAuthenticated(fn func() bool) Option {
	return func(ln *Listener) {
		ln.authed = fn
	}
}

// WithOnConnect runs fn after every successful dial, before the first read.
func WithOnConnect(fn func(ctx context.Context)) Option {
	return func(ln *Listener) {
		ln.onConnect = fn
	}
}

func always() bool { return true }

func NewListener(d Dialer, h Handler, opts ...Option) *Listener {
	l := &Listener{
		dialer:   d,
		handler:  h,
		logger:   slog.Default(),
		recorder: metrics.Noop{},
		delay:    DefaultReconnectDelay,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		online:   always,
		authed:   always,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connected reports whether a channel is currently open.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Reconnect asks the listener to try again, typically after connectivity
// returns. It never blocks and repeated calls collapse into one attempt.
func (l *Listener) Reconnect() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Listener) ready() bool {
	return l.online() && l.authed()
}

// Run connects and serves until ctx ends.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if l.ready() {
			served, err := l.session(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				l.logger.Info("push channel unavailable", slog.Any("error", err))
			}
			if served {
				if !l.wait(ctx, l.delay) {
					return ctx.Err()
				}
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.trigger:
		}
	}
}

// wait pauses for d or until Reconnect is called. It reports false when
// ctx ended.
func (l *Listener) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-l.trigger:
	}
	return true
}

// session dials once and reads until the connection closes. served reports
// whether the dial succeeded.
func (l *Listener) session(ctx context.Context) (served bool, err error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return false, err
	}
	l.recorder.RecordReconnect()
	conn, err := l.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	l.connected.Store(true)
	defer l.connected.Store(false)
	l.logger.Debug("push channel connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	if l.onConnect != nil {
		l.onConnect(ctx)
	}
	for {
		msg, err := conn.Read()
		if err != nil {
			l.logger.Debug("push channel closed", slog.Any("error", err))
			return true, nil
		}
		n, err := Parse(msg)
		if err != nil {
			l.logger.Warn("ignoring push message", slog.Any("error", err))
			continue
		}
		if err := l.handler(ctx, n); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("handling notification",
				slog.String("event", string(n.Event)),
				slog.String("type", string(n.Type)),
				slog.Any("error", err))
		}
	}
}
