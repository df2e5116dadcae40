package metrics

import (
	"time"

	"daily-quiz-composer/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements app.Recorder on Prometheus collectors.
type Metrics struct {
	compositions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	relaxation   prometheus.Histogram
	eligiblePool prometheus.Gauge
	templateSize prometheus.Histogram
}

// New registers the composer collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		compositions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daily_quiz_compositions_total",
				Help: "Compose and preview attempts by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "daily_quiz_composition_duration_seconds",
				Help:    "Time spent composing a daily quiz",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		relaxation: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "daily_quiz_relaxation_level",
				Help:    "Relaxation level applied to successful compositions",
				Buckets: prometheus.LinearBuckets(0, 1, domain.MaxRelaxationLevel+1),
			},
		),
		eligiblePool: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "daily_quiz_eligible_pool",
				Help: "Eligible questions seen by the latest composition or health check",
			},
		),
		templateSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "daily_quiz_template_bytes",
				Help:    "Size of published templates",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
			},
		),
	}
}

func (m *Metrics) ObserveComposition(mode domain.Mode, outcome string, took time.Duration, relaxation int) {
	m.compositions.WithLabelValues(string(mode), outcome).Inc()
	m.duration.WithLabelValues(string(mode)).Observe(took.Seconds())
	if outcome == "success" {
		m.relaxation.Observe(float64(relaxation))
	}
}

func (m *Metrics) SetEligiblePool(n int) {
	m.eligiblePool.Set(float64(n))
}

func (m *Metrics) ObserveTemplateSize(bytes int) {
	m.templateSize.Observe(float64(bytes))
}
