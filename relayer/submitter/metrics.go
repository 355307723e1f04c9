package submitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submitterAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submitter_attempts_total",
		Help: "Submission attempts by destination and result.",
	}, []string{"destination", "result"})
	submitterInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "submitter_in_flight",
		Help: "Attestations currently being submitted.",
	})
	submissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayer_submission_latency_seconds",
		Help:    "Wall time from dispatch to confirmed relay.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
