package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus records into a caller-supplied registerer, so several clients
// can live in one process without colliding on the default registry.
type Prometheus struct {
	QueueDepth       *prometheus.GaugeVec
	TaskDuration     *prometheus.HistogramVec
	TasksTotal       *prometheus.CounterVec
	TasksDropped     *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	RecordsDecrypted *prometheus.CounterVec
	UnlockAttempts   *prometheus.CounterVec
	Reconnects       prometheus.Counter
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates and registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		QueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ironkeep_queue_pending",
				Help: "Tasks waiting in a work queue",
			},
			[]string{"queue"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironkeep_queue_task_duration_seconds",
				Help:    "Work queue task run time",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"queue"},
		),
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironkeep_queue_tasks_total",
				Help: "Work queue tasks completed",
			},
			[]string{"queue", "result"},
		),
		TasksDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironkeep_queue_tasks_dropped_total",
				Help: "Tasks dropped before they started",
			},
			[]string{"queue"},
		),
		SyncDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ironkeep_sync_duration_seconds",
				Help:    "Sync run time by outcome",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		RecordsDecrypted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironkeep_records_decrypted_total",
				Help: "Cipher records run through the decryption pipeline",
			},
			[]string{"result"},
		),
		UnlockAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ironkeep_unlock_attempts_total",
				Help: "Vault unlock attempts",
			},
			[]string{"result"},
		),
		Reconnects: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ironkeep_realtime_reconnects_total",
				Help: "Realtime channel reconnect attempts",
			},
		),
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (p *Prometheus) RecordQueueDepth(queue string, pending int) {
	p.QueueDepth.WithLabelValues(queue).Set(float64(pending))
}

func (p *Prometheus) RecordTask(queue string, d time.Duration, err error) {
	p.TaskDuration.WithLabelValues(queue).Observe(d.Seconds())
	p.TasksTotal.WithLabelValues(queue, result(err == nil)).Inc()
}

func (p *Prometheus) RecordDropped(queue string, n int) {
	p.TasksDropped.WithLabelValues(queue).Add(float64(n))
}

func (p *Prometheus) RecordSync(status string, d time.Duration) {
	p.SyncDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (p *Prometheus) RecordDecrypted(ok, failed int) {
	p.RecordsDecrypted.WithLabelValues("ok").Add(float64(ok))
	p.RecordsDecrypted.WithLabelValues("error").Add(float64(failed))
}

func (p *Prometheus) RecordUnlock(success bool) {
	p.UnlockAttempts.WithLabelValues(result(success)).Inc()
}

func (p *Prometheus) RecordReconnect() {
	p.Reconnects.Inc()
}
