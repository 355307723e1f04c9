package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readyFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_ready_fetched_total",
		Help: "Ready attestations emitted to the submitter.",
	})
	fetcherPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcher_polls_total",
		Help: "Attester polls by source endpoint and result.",
	}, []string{"source", "result"})
	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_fetch_errors_total",
		Help: "Failed attester polls and undecodable attestations.",
	})
)
