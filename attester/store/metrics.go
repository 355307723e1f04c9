package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attestationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attestations_pending",
		Help: "Number of attestations below threshold and not yet expired.",
	})
	attestationsReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attestations_ready",
		Help: "Number of attestations at or above threshold awaiting relay.",
	})
	attestationsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attestations_relayed_total",
		Help: "Total attestations marked relayed.",
	})
	signaturesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signatures_added_total",
		Help: "Total partial signatures accepted into the store.",
	})
	duplicateSignatures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_signatures_total",
		Help: "Total signature submissions rejected as duplicate attester.",
	})
	canonicalizationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canonicalization_conflicts_total",
		Help: "Total ensure calls whose message bytes differed from the stored copy.",
	})
	sweepRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_removed_total",
		Help: "Total expired attestations removed by the sweeper.",
	})
)
