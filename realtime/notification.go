// Package realtime is the server push channel. It carries invalidation
// notifications only; every change is re-fetched through the sync engine.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// EventClass is the top-level notification class.
type EventClass string

const (
	EventSync    EventClass = "sync"
	EventMembers EventClass = "members"
)

// Type is the kind of sync notification.
type Type string

const (
	TypeCipherCreate Type = "cipherCreate"
	TypeCipherUpdate Type = "cipherUpdate"
	TypeCipherDelete Type = "cipherDelete"
	TypeVault        Type = "vault"
	TypeLogout       Type = "logout"
)

// Data identifies the records a notification is about.
type Data struct {
	ID  string   `json:"id,omitzero"`
	IDs []string `json:"ids,omitzero"`
}

// Notification is one message on the push channel.
type Notification struct {
	Event EventClass `json:"event"`
	Type  Type       `json:"type,omitzero"`
	Data  Data       `json:"data,omitzero"`
}

// ErrMalformed is returned for messages that cannot be decoded at all.
var ErrMalformed = errors.New("realtime: malformed notification")

// Parse decodes a notification. Unknown types are kept, and a message of an
// unrecognized shape comes back stripped to its event class with no type or
// ids, so the receiver falls back to a full sync.
func Parse(b []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !n.Known() {
		return Notification{Event: n.Event}, nil
	}
	return n, nil
}

// Known reports whether the event class is one the client understands.
func (n Notification) Known() bool {
	return n.Event == EventSync || n.Event == EventMembers
}

// CipherIDs returns the distinct ids the notification names, in order.
func (n Notification) CipherIDs() []string {
	var ids []string
	add := func(id string) {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	add(n.Data.ID)
	for _, id := range n.Data.IDs {
		add(id)
	}
	return ids
}
