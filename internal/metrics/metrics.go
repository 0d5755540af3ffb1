package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	VerificationVerdicts *prometheus.CounterVec
	EscrowOutcomes       *prometheus.CounterVec
	StageFailures        *prometheus.CounterVec
	SandboxRunDuration   prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		VerificationVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexis_verification_verdicts_total",
				Help: "Applied verification verdicts.",
			},
			[]string{"result"},
		),
		EscrowOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexis_escrow_outcomes_total",
				Help: "Escrow purchases reaching a terminal or abandoned state.",
			},
			[]string{"outcome"},
		),
		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexis_stage_failures_total",
				Help: "Pipeline stages that failed to commit.",
			},
			[]string{"pipeline", "stage"},
		),
		SandboxRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vexis_sandbox_run_duration_seconds",
				Help:    "Sandbox execution duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.VerificationVerdicts, m.EscrowOutcomes, m.StageFailures, m.SandboxRunDuration)
	return m
}

func (m *Metrics) Verdict(passed bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if passed {
		result = "passed"
	}
	m.VerificationVerdicts.WithLabelValues(result).Inc()
}

func (m *Metrics) EscrowOutcome(outcome string) {
	if m == nil {
		return
	}
	m.EscrowOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StageFailed(pipeline, stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(pipeline, stage).Inc()
}

func (m *Metrics) SandboxRun(d time.Duration) {
	if m == nil {
		return
	}
	m.SandboxRunDuration.Observe(d.Seconds())
}
