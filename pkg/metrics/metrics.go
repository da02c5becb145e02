package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. One instance is built
// at boot and threaded to the engines.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	ToolCallsTotal     *prometheus.CounterVec
	TokensTotal        *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	RoundtableTurns    prometheus.Counter
	JobRunsTotal       *prometheus.CounterVec
	ActiveTurns        prometheus.Gauge
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_chat_turns_total",
			Help: "Chat turns by agent and outcome.",
		}, []string{"agent_id", "outcome"}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aria_chat_turn_duration_seconds",
			Help:    "Wall-clock duration of one chat turn.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent_id"}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_tool_calls_total",
			Help: "Tool dispatches by skill and outcome.",
		}, []string{"skill", "outcome"}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_llm_tokens_total",
			Help: "LLM tokens by model and direction.",
		}, []string{"model", "direction"}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_breaker_transitions_total",
			Help: "Circuit breaker state transitions by breaker name and new state.",
		}, []string{"name", "state"}),
		RoundtableTurns: factory.NewCounter(prometheus.CounterOpts{
			Name: "aria_roundtable_turns_total",
			Help: "Completed roundtable turns, synthetic timeout turns included.",
		}),
		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_scheduled_job_runs_total",
			Help: "Scheduled job firings by job id and status.",
		}, []string{"job_id", "status"}),
		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aria_active_turns",
			Help: "Chat turns currently in flight.",
		}),
	}
}
