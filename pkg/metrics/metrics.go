// Package metrics defines and registers the Prometheus metrics exposed on
// /metrics: run and project counts, API latency, provider call outcomes, and
// billing totals.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Control plane state
	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trcoder_runs_total",
			Help: "Number of runs by state",
		},
		[]string{"state"},
	)

	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trcoder_projects_total",
			Help: "Number of registered projects",
		},
	)

	RunnerSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trcoder_runner_sessions",
			Help: "Number of live runner sessions",
		},
	)

	LedgerEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trcoder_ledger_events_total",
			Help: "Number of events in the ledger",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trcoder_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trcoder_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Provider metrics
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trcoder_provider_calls_total",
			Help: "Total number of provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trcoder_provider_call_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Billing metrics
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trcoder_tokens_total",
			Help: "Total tokens by model and direction",
		},
		[]string{"model", "direction"},
	)

	ChargedUSDTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trcoder_charged_usd_total",
			Help: "Total amount charged in USD",
		},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(RunnerSessions)
	prometheus.MustRegister(LedgerEvents)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ProviderCallsTotal)
	prometheus.MustRegister(ProviderCallDuration)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(ChargedUSDTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
