// Package metrics exposes cycle and liquidity gauges to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// Recorder records cycle outcomes using Prometheus.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	sourceErrors  *prometheus.CounterVec
	netLiquidity  *prometheus.GaugeVec
	nodeValue     *prometheus.GaugeVec
	driverImpact  *prometheus.GaugeVec
	condition     *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netliquidity_cycles_total",
				Help: "Analysis cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netliquidity_cycle_duration_seconds",
				Help:    "Duration of analysis cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		sourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netliquidity_source_errors_total",
				Help: "Upstream sources that could not be built into a node",
			},
			[]string{"role"},
		),
		netLiquidity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netliquidity_value",
				Help: "Net liquidity for the current and previous period",
			},
			[]string{"period"},
		),
		nodeValue: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netliquidity_node_value",
				Help: "Latest value of each liquidity node",
			},
			[]string{"role"},
		),
		driverImpact: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netliquidity_driver_impact",
				Help: "Signed impact of each driver on net liquidity",
			},
			[]string{"role"},
		),
		condition: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netliquidity_condition",
				Help: "1 for the current overall condition, 0 otherwise",
			},
			[]string{"condition"},
		),
	}
}

// RecordCycle records a finished cycle's outcome and duration.
func (r *Recorder) RecordCycle(err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(d.Seconds())
}

// RecordSourceError records one source failing in a cycle.
func (r *Recorder) RecordSourceError(role models.Role) {
	r.sourceErrors.WithLabelValues(string(role)).Inc()
}

// RecordSnapshot publishes a snapshot's values.
func (r *Recorder) RecordSnapshot(s models.Snapshot) {
	r.netLiquidity.WithLabelValues("current").Set(s.Aggregate.Current)
	r.netLiquidity.WithLabelValues("previous").Set(s.Aggregate.Previous)

	for role, n := range s.Nodes {
		r.nodeValue.WithLabelValues(string(role)).Set(n.Current.Value)
	}

	r.driverImpact.Reset()
	for _, d := range s.Attribution.Drivers {
		r.driverImpact.WithLabelValues(string(d.Role)).Set(d.Impact)
	}

	for _, c := range []models.Condition{models.ConditionExpansionary, models.ConditionNeutral, models.ConditionContractionary} {
		v := 0.0
		if c == s.Narrative.Condition {
			v = 1
		}
		r.condition.WithLabelValues(string(c)).Set(v)
	}
}
