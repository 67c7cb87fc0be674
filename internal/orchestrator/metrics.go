package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shaiso/Stepwright/internal/domain"
)

// Metrics — Prometheus метрики runs.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	stepResults  *prometheus.CounterVec
	activeRuns   prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
// nil — глобальный prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stepwright_runs_started_total",
			Help: "Runs that passed precondition checks and entered PUBLISHING",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwright_runs_finished_total",
			Help: "Runs that reached a terminal phase",
		}, []string{"phase", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepwright_run_duration_seconds",
			Help:    "Wall-clock duration of runs from PUBLISHING to a terminal phase",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"phase"}),
		stepResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwright_step_results_total",
			Help: "Per-step results reported by the execution backend",
		}, []string{"status"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stepwright_active_runs",
			Help: "Runs currently in PUBLISHING or TRIGGERING",
		}),
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished(snap RunSnapshot) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()

	if snap.Outcome != nil {
		for _, r := range snap.Outcome.StepResults {
			m.stepResults.WithLabelValues(string(r.Status)).Inc()
		}
	}
	m.runsFinished.WithLabelValues(string(snap.Phase), statusLabel(snap.Outcome)).Inc()

	if snap.FinishedAt != nil {
		m.runDuration.WithLabelValues(string(snap.Phase)).
			Observe(snap.FinishedAt.Sub(snap.StartedAt).Seconds())
	}
}

// statusLabel — метка статуса для счётчиков, где outcome может отсутствовать.
func statusLabel(outcome *domain.RunOutcome) string {
	if outcome == nil {
		return "none"
	}
	return string(outcome.Status)
}
