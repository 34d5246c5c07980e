// Package events is the publish/subscribe channel shared by the components
// of one client. Each client owns its own Bus; there is no process-wide bus.
package events

import (
	"sync"
	"time"
)

// Event is anything published on a Bus.
type Event interface {
	EventName() string
}

// BatchDecrypted is published exactly once per decryption batch, whether or
// not individual records failed.
type BatchDecrypted struct {
	Batch     uint64
	Succeeded int
	Failed    int
}

// ForceLogout ends the session: the server rejected the token, too many
// unlock attempts failed, or the server asked for it.
type ForceLogout struct {
	Reason string
}

// DataOutdated reports a temporary id the server no longer recognizes.
// Recovery is a user-initiated full resync.
type DataOutdated struct {
	CipherID string
}

// CipherIDReplaced reports that an offline-created cipher got its server id.
type CipherIDReplaced struct {
	OldID string
	NewID string
}

// ClearAllData asks every component to drop state for the user.
type ClearAllData struct {
	UserID string
}

// SyncCompleted is published at the end of every sync run.
type SyncCompleted struct {
	Status   string
	LastSync time.Time
}

func (BatchDecrypted) EventName() string   { return "batch_decrypted" }
func (ForceLogout) EventName() string      { return "force_logout" }
func (DataOutdated) EventName() string     { return "data_outdated" }
func (CipherIDReplaced) EventName() string { return "cipher_id_replaced" }
func (ClearAllData) EventName() string     { return "clear_all_data" }
func (SyncCompleted) EventName() string    { return "sync_completed" }

// Bus delivers events synchronously, in subscription order, on the
// publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(Event)
	order    []int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(Event))}
}

// Subscribe registers fn for every event and returns a function that
// removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every current subscriber. Handlers may publish or
// subscribe themselves; they see the subscriber list as of this call.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// On subscribes fn to events of type T only.
func On[T Event](b *Bus, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		if v, ok := e.(T); ok {
			fn(v)
		}
	})
}
