// Package metrics exposes prometheus collectors for the message buffer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BufferLength        prometheus.Gauge
	Pushes              prometheus.Counter
	Compactions         *prometheus.CounterVec
	CompactedMessages   prometheus.Counter
	CompactionDuration  prometheus.Histogram
	RaceRetries         prometheus.Counter
	IngressRequests     *prometheus.CounterVec
	RateLimitedMessages prometheus.Counter
}

// New registers collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		BufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Subsystem: "buffer",
			Name:      "length",
			Help:      "Entries currently held in the write-back buffer.",
		}),
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "buffer",
			Name:      "pushes_total",
			Help:      "Messages pushed to the buffer.",
		}),
		Compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "compaction",
			Name:      "runs_total",
			Help:      "Compaction attempts by result.",
		}, []string{"result"}),
		CompactedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "compaction",
			Name:      "messages_total",
			Help:      "Messages moved from the buffer to the durable store.",
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "compaction",
			Name:      "duration_seconds",
			Help:      "Wall time of a compaction including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		RaceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "buffer",
			Name:      "race_retries_total",
			Help:      "Edits re-located because the buffer slot changed underneath them.",
		}),
		IngressRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "ingress",
			Name:      "requests_total",
			Help:      "Message operations by ingress and operation.",
		}, []string{"ingress", "op"}),
		RateLimitedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "ingress",
			Name:      "rate_limited_total",
			Help:      "Create requests rejected by the per-author limiter.",
		}),
	}

	reg.MustRegister(
		m.BufferLength,
		m.Pushes,
		m.Compactions,
		m.CompactedMessages,
		m.CompactionDuration,
		m.RaceRetries,
		m.IngressRequests,
		m.RateLimitedMessages,
	)
	return m
}
