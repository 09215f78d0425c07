// Package metrics exposes the engine's Prometheus surface, adapted
// from the teacher's pipeline MetricsRegistry and repurposed for
// arbitrage scan/stream steps instead of momentum-pipeline steps.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every metric the engine exports. The scanner and
// stream listener report into it; WSLatency and VenueWeight1m are
// registered but nothing in the engine updates them.
type Registry struct {
	StepDuration *prometheus.HistogramVec

	CyclesFound        *prometheus.CounterVec
	OpportunitiesFound *prometheus.CounterVec
	OpportunitiesAbove *prometheus.CounterVec

	ExecutionOutcomes *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	WSLatency *prometheus.HistogramVec

	ActiveScans prometheus.Gauge
	TotalScans  prometheus.Counter

	VenueWeight1m prometheus.Gauge
}

// New builds and registers every metric against the given registerer
// (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid collisions).
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbitron_step_duration_seconds",
				Help:    "Duration of each detection step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"step", "result"},
		),

		CyclesFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbitron_cycles_found_total",
				Help: "Total negative cycles surfaced by Bellman-Ford",
			},
			[]string{"driver"},
		),

		OpportunitiesFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbitron_opportunities_found_total",
				Help: "Total cycles that survived depth-aware validation",
			},
			[]string{"driver"},
		),

		OpportunitiesAbove: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbitron_opportunities_above_threshold_total",
				Help: "Total validated opportunities with real_rate >= MIN_ARB_THRESH",
			},
			[]string{"driver"},
		),

		ExecutionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbitron_execution_outcomes_total",
				Help: "Total execution attempts by outcome",
			},
			[]string{"outcome"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbitron_execution_duration_seconds",
				Help:    "Wall-clock duration of a full cycle execution",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"legs"},
		),

		WSLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbitron_ws_latency_ms",
				Help:    "Round-trip latency observed on the book-ticker stream",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"venue"},
		),

		ActiveScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbitron_active_scans",
			Help: "1 while a scan iteration is in flight, else 0",
		}),

		TotalScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbitron_scans_total",
			Help: "Total scan loop iterations completed",
		}),

		VenueWeight1m: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbitron_venue_used_weight_1m",
			Help: "Last-observed venue request-weight usage (1-minute window)",
		}),
	}

	reg.MustRegister(
		m.StepDuration, m.CyclesFound, m.OpportunitiesFound, m.OpportunitiesAbove,
		m.ExecutionOutcomes, m.ExecutionDuration, m.WSLatency,
		m.ActiveScans, m.TotalScans, m.VenueWeight1m,
	)
	return m
}

// StepTimer times one named detection step (graph build, find_all,
// validate, ...).
type StepTimer struct {
	m     *Registry
	step  string
	start time.Time
}

func (m *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{m: m, step: step, start: time.Now()}
}

func (t *StepTimer) Stop(result string) {
	t.m.StepDuration.WithLabelValues(t.step, result).Observe(time.Since(t.start).Seconds())
}

// RecordExecution logs one full-cycle execution outcome.
func (m *Registry) RecordExecution(outcome string, legs int, duration time.Duration) {
	m.ExecutionOutcomes.WithLabelValues(outcome).Inc()
	m.ExecutionDuration.WithLabelValues(strconv.Itoa(legs)).Observe(duration.Seconds())
	log.Info().Str("outcome", outcome).Int("legs", legs).Dur("duration", duration).Msg("metrics: execution recorded")
}

// Handler returns the HTTP handler serving this registry's metrics.
// Pass the same prometheus.Registerer used in New as a
// prometheus.Gatherer (*prometheus.Registry satisfies both).
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
