package realize

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records realizer activity. A nil *Metrics records nothing.
type Metrics struct {
	cntRealized    prometheus.Counter
	cntVirtualized prometheus.Counter
	cntPasses      prometheus.Counter
	gaugeQuantum   prometheus.Gauge
	histQuantumDur prometheus.Histogram
}

// NewMetrics creates the realizer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cntRealized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pquadtree_realized_total",
			Help: "Count of visuals created",
		}),
		cntVirtualized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pquadtree_virtualized_total",
			Help: "Count of visuals discarded",
		}),
		cntPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pquadtree_realize_passes_total",
			Help: "Count of reconciliation passes run to completion",
		}),
		gaugeQuantum: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pquadtree_realize_quantum",
			Help: "Number of items requested by the most recent quantum",
		}),
		histQuantumDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pquadtree_realize_quantum_seconds",
			Help:    "Histogram of reconciliation quantum durations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
	for _, c := range []prometheus.Collector{m.cntRealized, m.cntVirtualized, m.cntPasses, m.gaugeQuantum, m.histQuantumDur} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering realize metrics")
		}
	}
	return m, nil
}

func (m *Metrics) realized() {
	if m != nil {
		m.cntRealized.Inc()
	}
}

func (m *Metrics) virtualized() {
	if m != nil {
		m.cntVirtualized.Inc()
	}
}

func (m *Metrics) passCompleted() {
	if m != nil {
		m.cntPasses.Inc()
	}
}

func (m *Metrics) quantum(n int, elapsed time.Duration) {
	if m != nil {
		m.gaugeQuantum.Set(float64(n))
		m.histQuantumDur.Observe(elapsed.Seconds())
	}
}
