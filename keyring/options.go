package keyring

import (
	"log/slog"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/metrics"
)

// Default limits.
const (
	DefaultMaxUnlockAttempts = 5
	DefaultRSABits           = 2048
)

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

func WithService(s *crypto.Service) Option {
	return func(m *Manager) {
		m.svc = s
	}
}

// WithEventBus publishes ForceLogout and ClearAllData on bus and logs the
// session out when anything else publishes ForceLogout.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithMaxUnlockAttempts sets how many consecutive failed unlocks force a
// logout. Zero disables the limit.
func WithMaxUnlockAttempts(n int) Option {
	return func(m *Manager) {
		m.maxAttempts = n
	}
}

// WithRSABits sets the key size for new accounts (2048 or 4096).
func WithRSABits(bits int) Option {
	return func(m *Manager) {
		m.rsaBits = bits
	}
}
