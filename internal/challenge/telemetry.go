package challenge

import (
	"context"
	"strconv"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds the Prometheus collectors of the scoring pipeline.
type Telemetry struct {
	Decisions        *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	Scores           prometheus.Histogram
	EvaluationErrors *prometheus.CounterVec
	ListenerFailures prometheus.Counter
}

// NewTelemetry creates the collectors and registers them on reg.
func NewTelemetry(reg prometheus.Registerer) (*Telemetry, error) {
	t := &Telemetry{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "decisions_total",
			Help:      "Total scoring decisions by decision.",
		}, []string{"decision"}),

		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "outcomes_total",
			Help:      "Total resolved challenge and block outcomes.",
		}, []string{"status", "permanent"}),

		Scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "riskguard",
			Name:      "evaluation_score",
			Help:      "Distribution of total risk scores.",
			Buckets:   []float64{0, 10, 25, 50, 80, 100, 150, 250},
		}),

		EvaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "evaluation_errors_total",
			Help:      "Total evaluations aborted by a rule or store error, by phase.",
		}, []string{"phase"}),

		ListenerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riskguard",
			Name:      "listener_failures_total",
			Help:      "Total outcome listener errors and panics.",
		}),
	}

	for _, c := range []prometheus.Collector{t.Decisions, t.Outcomes, t.Scores, t.EvaluationErrors, t.ListenerFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ObserveDecision records a decision and its score.
func (t *Telemetry) ObserveDecision(d domain.Decision, score int) {
	if t == nil {
		return
	}
	t.Decisions.WithLabelValues(string(d)).Inc()
	t.Scores.Observe(float64(score))
}

// ObserveEvaluationError records an aborted evaluation.
func (t *Telemetry) ObserveEvaluationError(phase string) {
	if t == nil {
		return
	}
	t.EvaluationErrors.WithLabelValues(phase).Inc()
}

// ObserveListenerFailure records a failing listener.
func (t *Telemetry) ObserveListenerFailure() {
	if t == nil {
		return
	}
	t.ListenerFailures.Inc()
}

// OnOutcome makes Telemetry usable as an OutcomeListener.
func (t *Telemetry) OnOutcome(ctx context.Context, outcome *domain.ChallengeOutcome, c *Context) error {
	if t == nil {
		return nil
	}
	t.Outcomes.WithLabelValues(string(outcome.Status), strconv.FormatBool(outcome.Permanent)).Inc()
	return nil
}
