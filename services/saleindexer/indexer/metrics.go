package indexer

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes poller health collectors on a caller-owned registry. A nil
// Metrics is valid and records nothing.
type Metrics struct {
	indexed  prometheus.Counter
	failures prometheus.Counter
	lastSync prometheus.Gauge
}

// NewMetrics registers the indexer collectors with the supplied registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		indexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "saleindexer",
			Name:      "purchases_indexed_total",
			Help:      "Number of purchase receipts copied from the node.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "saleindexer",
			Name:      "sync_failures_total",
			Help:      "Number of poll cycles that ended in an error.",
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "saleindexer",
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.indexed, m.failures, m.lastSync)
	}
	return m
}

func (m *Metrics) observeSync(indexed int) {
	if m == nil {
		return
	}
	if indexed > 0 {
		m.indexed.Add(float64(indexed))
	}
	m.lastSync.SetToCurrentTime()
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
