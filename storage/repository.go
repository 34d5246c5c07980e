// Package storage is the local persistence layer of the client: the
// encrypted cipher cache, wrapped key material and sync bookkeeping all live
// in a Repository, partitioned by account namespace.
package storage

import "errors"

// ErrNotFound is returned when a record or namespace does not exist.
var ErrNotFound = errors.New("record not found")

// BatchTx provides writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for local record storage.
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	List(namespace string, recordType string) ([]string, error)
	Delete(namespace string, recordType string, recordID string) error
	Batch(namespace string, fn func(tx BatchTx) error) error
	// Drop removes every record in the namespace.
	Drop(namespace string) error
}
