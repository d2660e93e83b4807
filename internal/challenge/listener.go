package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// OutcomeListener observes resolved non-allow outcomes.
// Errors are logged by the caller and never change the decision.
type OutcomeListener interface {
	OnOutcome(ctx context.Context, outcome *domain.ChallengeOutcome, c *Context) error
}

// ListenerFunc adapts a function to OutcomeListener.
type ListenerFunc func(ctx context.Context, outcome *domain.ChallengeOutcome, c *Context) error

func (f ListenerFunc) OnOutcome(ctx context.Context, outcome *domain.ChallengeOutcome, c *Context) error {
	return f(ctx, outcome, c)
}

// LogListener writes every outcome to a structured logger.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) OnOutcome(ctx context.Context, outcome *domain.ChallengeOutcome, c *Context) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("risk outcome",
		"outcome_id", outcome.ID,
		"status", outcome.Status,
		"permanent", outcome.Permanent,
		"ttl", outcome.TTL,
		"score", c.Score(),
		"subject", c.Subject(),
		"reason", c.Reason,
	)
	return nil
}

// BusListener publishes every outcome as an OutcomeEvent.
type BusListener struct {
	Bus   domain.EventBus
	Topic string
	Now   func() time.Time
}

// NewBusListener publishes to domain.TopicOutcome.
func NewBusListener(bus domain.EventBus) *BusListener {
	return &BusListener{Bus: bus, Topic: domain.TopicOutcome, Now: time.Now}
}

func (l *BusListener) OnOutcome(ctx context.Context, outcome *domain.ChallengeOutcome, c *Context) error {
	payload, err := json.Marshal(NewOutcomeEvent(outcome, c, l.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}
	if err := l.Bus.Publish(ctx, l.Topic, payload); err != nil {
		return fmt.Errorf("failed to publish outcome %s: %w", outcome.ID, err)
	}
	return nil
}

// NewOutcomeEvent assembles the audit event for outcome.
func NewOutcomeEvent(outcome *domain.ChallengeOutcome, c *Context, at time.Time) *domain.OutcomeEvent {
	ev := &domain.OutcomeEvent{
		Outcome:    outcome,
		Decision:   c.Decision,
		Score:      c.Score(),
		Reason:     c.Reason,
		OccurredAt: at.UTC(),
	}
	if c.HardRuleHit != nil {
		ev.HardRule = c.HardRuleHit.RuleName
	}
	if c.Risk != nil {
		ev.Action = c.Risk.Action
		ev.UserID = c.Risk.UserID
		ev.IP = c.Risk.IP
	}
	return ev
}
