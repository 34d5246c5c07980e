// Package metrics defines the Recorder the vault core reports through, a
// no-op default and a Prometheus implementation.
package metrics

import "time"

// Recorder receives operational measurements. Implementations must be safe
// for concurrent use.
type Recorder interface {
	RecordQueueDepth(queue string, pending int)
	RecordTask(queue string, d time.Duration, err error)
	RecordDropped(queue string, n int)
	RecordSync(status string, d time.Duration)
	RecordDecrypted(ok, failed int)
	RecordUnlock(success bool)
	RecordReconnect()
}

// Noop is a Recorder that discards all data.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordQueueDepth(queue string, pending int)          {}
func (Noop) RecordTask(queue string, d time.Duration, err error) {}
func (Noop) RecordDropped(queue string, n int)                   {}
func (Noop) RecordSync(status string, d time.Duration)           {}
func (Noop) RecordDecrypted(ok, failed int)                      {}
func (Noop) RecordUnlock(success bool)                           {}
func (Noop) RecordReconnect()                                    {}
