package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	observedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observed_messages_total",
		Help: "Finality-confirmed bridge events emitted, by source domain.",
	}, []string{"domain"})
	adapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_errors_total",
		Help: "Adapter failures by source domain and kind.",
	}, []string{"domain", "type"})
	reorgDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_reorg_drops_total",
		Help: "Pending deposits dropped because their block left the canonical chain.",
	}, []string{"domain"})
	pendingDeposits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adapter_pending_deposits",
		Help: "Deposits discovered but still below the confirmation threshold.",
	}, []string{"domain"})
)

// metrics is the per-adapter handle set, curried on the source domain at
// construction and handed to the runner.
type metrics struct {
	observed prometheus.Counter
	errors   *prometheus.CounterVec
	reorgs   prometheus.Counter
	pending  prometheus.Gauge
}

func newMetrics(domain string) *metrics {
	return &metrics{
		observed: observedMessages.WithLabelValues(domain),
		errors:   adapterErrors.MustCurryWith(prometheus.Labels{"domain": domain}),
		reorgs:   reorgDrops.WithLabelValues(domain),
		pending:  pendingDeposits.WithLabelValues(domain),
	}
}
