package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records pipeline-level Prometheus metrics.
type Metrics struct {
	analysesStarted     prometheus.Counter
	analysesFinished    *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	claimsExtracted     prometheus.Counter
	verificationResults *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		analysesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "analysis_started_total",
			Help: "Total number of analyses started",
		}),
		analysesFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_finished_total",
				Help: "Total number of analyses reaching a terminal status",
			},
			[]string{"status"},
		),
		phaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analysis_phase_duration_seconds",
				Help:    "Duration of analysis phases in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		claimsExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "claims_extracted_total",
			Help: "Total number of claims extracted across analyses",
		}),
		verificationResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_results_total",
				Help: "Total number of per-claim verification outcomes",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) recordStart() {
	if m == nil {
		return
	}
	m.analysesStarted.Inc()
}

func (m *Metrics) recordFinish(status string) {
	if m == nil {
		return
	}
	m.analysesFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) recordPhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordClaims(n int) {
	if m == nil {
		return
	}
	m.claimsExtracted.Add(float64(n))
}

func (m *Metrics) recordVerification(status string) {
	if m == nil {
		return
	}
	m.verificationResults.WithLabelValues(status).Inc()
}
