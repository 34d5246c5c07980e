package devserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginRateLimiter tracks failed logins per account and applies
// exponential backoff.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	maxFailures   = 5
	baseLockout   = 1 * time.Minute
	maxLockout    = 15 * time.Minute
	attemptExpiry = 1 * time.Hour
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{attempts: make(map[string]*attemptRecord)}
}

// check reports whether the account is locked out and for how long.
func (rl *loginRateLimiter) check(email string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[email]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, email)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

func (rl *loginRateLimiter) recordFailure(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[email]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[email] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= maxFailures {
		lockout := baseLockout
		for range rec.failures - maxFailures {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

func (rl *loginRateLimiter) recordSuccess(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, email)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := max(int(retryAfter.Seconds()), 1)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "too many failed login attempts; try again later")
}
