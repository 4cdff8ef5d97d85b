package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region collectors
// Metrics holds the analysis collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs          prometheus.Counter
	violations    *prometheus.CounterVec
	surges        prometheus.Counter
	parseErrors   prometheus.Counter
	probeRate     prometheus.Gauge
	aggregateRisk prometheus.Gauge
	riskCategory  *prometheus.CounterVec
	duration      prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounter(prometheus.CounterOpts{
			Name: "sophron_runs_total",
			Help: "Total analysis runs",
		}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sophron_violations_total",
			Help: "Total invariant violations by invariant",
		}, []string{"invariant"}),
		surges: f.NewCounter(prometheus.CounterOpts{
			Name: "sophron_schedule_surges_total",
			Help: "Total scheduling decisions that activated the surge rate",
		}),
		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sophron_parse_errors_total",
			Help: "Total candidate messages that failed to parse",
		}),
		probeRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "sophron_probe_rate",
			Help: "Probe rate chosen by the latest scheduling decision",
		}),
		aggregateRisk: f.NewGauge(prometheus.GaugeOpts{
			Name: "sophron_aggregate_risk",
			Help: "Aggregate risk score of the latest run",
		}),
		riskCategory: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sophron_risk_category_total",
			Help: "Total runs by aggregate risk category",
		}, []string{"category"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sophron_analysis_duration_seconds",
			Help:    "Duration of one analysis run",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

// #endregion collectors

// #region observe
// Run is what one analysis run reports.
type Run struct {
	ParseErrors   int
	Violations    map[string]int
	Surge         bool
	ProbeRate     float64
	AggregateRisk float64
	RiskCategory  string
	Duration      time.Duration
}

// Observe records one analysis run.
func (m *Metrics) Observe(r Run) {
	if m == nil {
		return
	}
	m.runs.Inc()
	m.parseErrors.Add(float64(r.ParseErrors))
	for inv, n := range r.Violations {
		if n > 0 {
			m.violations.WithLabelValues(inv).Add(float64(n))
		}
	}
	if r.Surge {
		m.surges.Inc()
	}
	m.probeRate.Set(r.ProbeRate)
	m.aggregateRisk.Set(r.AggregateRisk)
	if r.RiskCategory != "" {
		m.riskCategory.WithLabelValues(r.RiskCategory).Inc()
	}
	m.duration.Observe(r.Duration.Seconds())
}

// #endregion observe
