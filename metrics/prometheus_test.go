package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.RecordQueueDepth("decrypt", 12)
	p.RecordTask("sync", 20*time.Millisecond, nil)
	p.RecordTask("sync", time.Millisecond, errors.New("offline"))
	p.RecordDropped("health", 3)
	p.RecordDecrypted(997, 3)
	p.RecordUnlock(false)
	p.RecordUnlock(true)
	p.RecordReconnect()

	assert.Equal(t, 12.0, testutil.ToFloat64(p.QueueDepth.WithLabelValues("decrypt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.TasksTotal.WithLabelValues("sync", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.TasksTotal.WithLabelValues("sync", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.TasksDropped.WithLabelValues("health")))
	assert.Equal(t, 997.0, testutil.ToFloat64(p.RecordsDecrypted.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.RecordsDecrypted.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.UnlockAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Reconnects))
	assert.Equal(t, 1, testutil.CollectAndCount(p.TaskDuration), "one series per queue")

	// A second recorder on its own registry must not collide.
	assert.NotPanics(t, func() { NewPrometheus(prometheus.NewRegistry()) })
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	assert.NotPanics(t, func() {
		r.RecordSync("synced", time.Second)
		r.RecordTask("sync", 0, nil)
	})
}
