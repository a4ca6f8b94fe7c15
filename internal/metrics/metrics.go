package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch records notification batch outcomes. A nil *Dispatch is valid
// and records nothing.
type Dispatch struct {
	runs       *prometheus.CounterVec
	recipients *prometheus.CounterVec
	duration   prometheus.Histogram
}

// NewDispatch registers the collectors on reg.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	m := &Dispatch{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepress",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Notification dispatch runs by outcome reason.",
		}, []string{"reason"}),
		recipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagepress",
			Subsystem: "notify",
			Name:      "recipients_total",
			Help:      "Per-recipient delivery outcomes.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stagepress",
			Subsystem: "notify",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall-clock time of a dispatch run, including rate-limit pauses.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}),
	}
	reg.MustRegister(m.runs, m.recipients, m.duration)
	return m
}

// Observe records one dispatch run.
func (m *Dispatch) Observe(reason string, sent, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "completed"
	}
	m.runs.WithLabelValues(reason).Inc()
	m.recipients.WithLabelValues("sent").Add(float64(sent))
	m.recipients.WithLabelValues("failed").Add(float64(failed))
	m.duration.Observe(elapsed.Seconds())
}
