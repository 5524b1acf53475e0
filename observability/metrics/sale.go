package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SaleMetrics struct {
	contributions  *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	raisedTotal    prometheus.Gauge
	capUtilization prometheus.Gauge
	issuedSupply   prometheus.Gauge
	softCapLatched prometheus.Gauge
	finalized      prometheus.Gauge
}

var (
	saleOnce     sync.Once
	saleRegistry *SaleMetrics
)

func Sale() *SaleMetrics {
	saleOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "sale_contributions_total",
				Help: "Count of accepted contributions by campaign phase.",
			}, []string{"phase"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "sale_rejections_total",
				Help: "Count of rejected contributions by reason.",
			}, []string{"reason"}),
			raisedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "sale_raised_total",
				Help: "Cumulative contributed value in campaign base units.",
			}),
			capUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "sale_cap_utilization",
				Help: "Ratio of the hard cap consumed so far (0-1).",
			}),
			issuedSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "sale_issued_supply",
				Help: "Units issued so far including bonuses.",
			}),
			softCapLatched: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "sale_softcap_latched",
				Help: "Indicates whether the soft-cap closing deadline has latched (1) or not (0).",
			}),
			finalized: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "sale_finalized",
				Help: "Indicates whether the campaign has been finalized (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.contributions,
			saleRegistry.rejections,
			saleRegistry.raisedTotal,
			saleRegistry.capUtilization,
			saleRegistry.issuedSupply,
			saleRegistry.softCapLatched,
			saleRegistry.finalized,
		)
	})
	return saleRegistry
}

func (m *SaleMetrics) ObserveContribution(phase string) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "unknown"
	}
	m.contributions.WithLabelValues(phase).Inc()
}

func (m *SaleMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// SetProgress updates the raised gauge and the derived hard-cap utilisation.
func (m *SaleMetrics) SetProgress(raised, hardCap *big.Int) {
	if m == nil {
		return
	}
	raisedVal := bigToFloat(raised)
	m.raisedTotal.Set(raisedVal)
	capVal := bigToFloat(hardCap)
	utilisation := 0.0
	if capVal > 0 {
		utilisation = raisedVal / capVal
		if utilisation > 1 {
			utilisation = 1
		}
	}
	m.capUtilization.Set(utilisation)
}

func (m *SaleMetrics) SetIssuedSupply(issued *big.Int) {
	if m == nil {
		return
	}
	m.issuedSupply.Set(bigToFloat(issued))
}

func (m *SaleMetrics) SetSoftCapLatched(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.softCapLatched.Set(1)
		return
	}
	m.softCapLatched.Set(0)
}

func (m *SaleMetrics) SetFinalized(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.finalized.Set(1)
		return
	}
	m.finalized.Set(0)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
