// Package turnmetrics exposes the turn runner's Prometheus instrumentation,
// grounded on the donor's internal/observability package: promauto-
// registered vectors constructed once and handed to every collaborator
// that needs to record an observation.
package turnmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the turn runner's complete instrumentation surface.
type Metrics struct {
	// TurnsTotal counts completed turns, labelled by an action string the
	// caller supplies and by whether the turn terminated the flow. The
	// serve loop records every turn with action="turn"; turns are not
	// broken down by the actions the LLM chose.
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds, from
	// state resolution through action execution.
	TurnDuration *prometheus.HistogramVec

	// SchemaRetriesTotal counts schema-correction retries the responder
	// issued before succeeding or falling back.
	SchemaRetriesTotal *prometheus.CounterVec

	// DebounceSupersessionsTotal counts workers abandoned because a
	// newer inbound message superseded their epoch.
	DebounceSupersessionsTotal prometheus.Counter

	// ExternalActionsTotal counts modify_flow / update_communication_style
	// invocations by action and truthfulness verdict.
	ExternalActionsTotal *prometheus.CounterVec
}

// New constructs and registers every metric against the default registry.
// Call once at process startup.
func New() *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrunner_turns_total",
				Help: "Total number of turns processed, by outcome action and terminal status",
			},
			[]string{"action", "terminal"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowrunner_turn_duration_seconds",
				Help:    "Duration of a full turn (state resolution, LLM call, action execution)",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"flow_id"},
		),
		SchemaRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrunner_schema_retries_total",
				Help: "Total number of schema-correction retries issued by the responder",
			},
			[]string{"outcome"},
		),
		DebounceSupersessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flowrunner_debounce_supersessions_total",
				Help: "Total number of debounced workers abandoned due to a newer inbound message",
			},
		),
		ExternalActionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowrunner_external_actions_total",
				Help: "Total number of external actions invoked, by action and truthfulness verdict",
			},
			[]string{"action", "truthful"},
		),
	}
}
