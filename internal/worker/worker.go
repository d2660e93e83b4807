// Package worker consumes outcome events from the EventBus and persists them.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Worker saves every OutcomeEvent it receives to the outcome repository.
type Worker struct {
	bus  domain.EventBus
	repo domain.OutcomeRepository

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Topics to consume. Empty means domain.TopicOutcome.
	Topics []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.OutcomeRepository) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the configured topics.
func (w *Worker) Start(cfg Config) error {
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{domain.TopicOutcome}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleOutcome)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("outcome worker started",
			"topic", topic,
		)
	}

	return nil
}

// handleOutcome decodes an OutcomeEvent and stores it.
func (w *Worker) handleOutcome(ctx context.Context, msg *domain.Message) error {
	var ev domain.OutcomeEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse outcome event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	rec := domain.RecordFromEvent(&ev)
	if w.repo != nil {
		if err := w.repo.SaveOutcome(ctx, rec); err != nil {
			w.failed.Add(1)
			slog.Error("failed to save outcome",
				"outcome_id", rec.ID,
				"error", err,
			)
			return err
		}
	}

	w.processed.Add(1)
	slog.Debug("outcome persisted",
		"outcome_id", rec.ID,
		"status", rec.Status,
		"user_id", rec.UserID,
		"ip", rec.IP,
	)
	return nil
}

// Stop unsubscribes from all topics.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("outcome worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
