package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the search counters and gauges. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Evaluations     *prometheus.CounterVec
	CoveredTargets  prometheus.Gauge
	KnownTargets    prometheus.Gauge
	Mutations       *prometheus.CounterVec
	Samples         *prometheus.CounterVec
	Phase           *prometheus.GaugeVec
	EvaluationSecs  prometheus.Histogram
	PopulationLimit prometheus.Gauge
}

// NewMetrics registers the search metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mioforge_evaluations_total",
			Help: "Fitness evaluations by outcome.",
		}, []string{"outcome"}),
		CoveredTargets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mioforge_covered_targets",
			Help: "Targets covered so far.",
		}),
		KnownTargets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mioforge_known_targets",
			Help: "Targets reported by the system under test so far.",
		}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mioforge_mutations_total",
			Help: "Applied mutation operators by improvement.",
		}, []string{"operator", "improved"}),
		Samples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mioforge_samples_total",
			Help: "Individuals produced by the sampler by reason.",
		}, []string{"reason"}),
		Phase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mioforge_phase",
			Help: "1 for the active search phase.",
		}, []string{"phase"}),
		EvaluationSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mioforge_evaluation_seconds",
			Help:    "Wall time of one fitness evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		PopulationLimit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mioforge_population_limit",
			Help: "Current per-target population cap.",
		}),
	}
}

func (m *Metrics) ObserveEvaluation(failed bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvaluationSecs.Observe(seconds)
}

func (m *Metrics) ObserveCoverage(covered, targets int) {
	if m == nil {
		return
	}
	m.CoveredTargets.Set(float64(covered))
	m.KnownTargets.Set(float64(targets))
}

func (m *Metrics) ObserveMutation(operator string, improved bool) {
	if m == nil {
		return
	}
	label := "false"
	if improved {
		label = "true"
	}
	m.Mutations.WithLabelValues(operator, label).Inc()
}

func (m *Metrics) ObserveSample(reason string) {
	if m == nil {
		return
	}
	m.Samples.WithLabelValues(reason).Inc()
}

// SetPhase marks phase active and every other known phase inactive.
func (m *Metrics) SetPhase(phase string, all ...string) {
	if m == nil {
		return
	}
	for _, p := range all {
		m.Phase.WithLabelValues(p).Set(0)
	}
	m.Phase.WithLabelValues(phase).Set(1)
}

func (m *Metrics) SetPopulationLimit(n int) {
	if m == nil {
		return
	}
	m.PopulationLimit.Set(float64(n))
}
