package attester

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attester_messages_processed_total",
		Help: "Observed messages consumed from adapters.",
	})
	messagesSigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attester_messages_signed_total",
		Help: "Partial signatures produced, by destination domain.",
	}, []string{"destination"})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Errors by kind and originating component.",
	}, []string{"type", "source"})
	signingErrors = errorsTotal.MustCurryWith(prometheus.Labels{"source": "attester"})
)
