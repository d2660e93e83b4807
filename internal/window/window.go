// Package window applies time windows to counter store writes.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Strategy decides how a write refreshes the TTL of its key.
type Strategy string

const (
	// Sliding resets the TTL on every write, so a key only decays after a
	// full window of silence.
	Sliding Strategy = "SLIDING"

	// Fixed anchors the TTL on the first write of a period; later writes
	// inside the period leave it untouched.
	Fixed Strategy = "FIXED"
)

// ParseStrategy parses a strategy name. Empty means Sliding.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case "":
		return Sliding, nil
	case Sliding, Fixed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown window strategy: %q", s)
	}
}

// Manager wraps a CounterStore with windowed writes.
type Manager struct {
	store      domain.CounterStore
	strategy   Strategy
	failClosed bool
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithFailClosed makes store failures surface as errors instead of
// reading as "no activity".
func WithFailClosed(failClosed bool) Option {
	return func(m *Manager) { m.failClosed = failClosed }
}

// WithLogger sets the logger used for fail-open diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a window manager over store.
func NewManager(store domain.CounterStore, strategy Strategy, opts ...Option) *Manager {
	if strategy == "" {
		strategy = Sliding
	}
	m := &Manager{
		store:    store,
		strategy: strategy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Strategy returns the configured strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Store returns the underlying counter store.
func (m *Manager) Store() domain.CounterStore {
	return m.store
}

// IncrementInWindow counts one occurrence under key and returns the count
// within the current window. A non-positive window never decays.
func (m *Manager) IncrementInWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := m.store.Increment(ctx, key)
	if err != nil {
		return m.degrade("increment", key, err)
	}
	if err := m.applyTTL(ctx, key, window); err != nil {
		// The count itself is valid even if the TTL could not be refreshed.
		if _, ferr := m.degrade("expire", key, err); ferr != nil {
			return 0, ferr
		}
	}
	return n, nil
}

// AddDistinctInWindow records member in the set under key.
func (m *Manager) AddDistinctInWindow(ctx context.Context, key, member string, window time.Duration) error {
	if _, err := m.store.AddMember(ctx, key, member); err != nil {
		_, ferr := m.degrade("add-member", key, err)
		return ferr
	}
	if err := m.applyTTL(ctx, key, window); err != nil {
		_, ferr := m.degrade("expire", key, err)
		return ferr
	}
	return nil
}

// DistinctCount returns the size of the set under key. It never touches the TTL.
func (m *Manager) DistinctCount(ctx context.Context, key string) (int64, error) {
	n, err := m.store.DistinctSize(ctx, key)
	if err != nil {
		return m.degrade("distinct-size", key, err)
	}
	return n, nil
}

func (m *Manager) applyTTL(ctx context.Context, key string, window time.Duration) error {
	if window <= 0 {
		return nil
	}
	if m.strategy == Fixed {
		return m.store.ExpireIfPersistent(ctx, key, window)
	}
	return m.store.Expire(ctx, key, window)
}

// degrade implements the failure policy: fail-open reads as zero,
// fail-closed returns the wrapped error.
func (m *Manager) degrade(op, key string, err error) (int64, error) {
	if m.failClosed {
		return 0, fmt.Errorf("window %s %s: %w", op, key, err)
	}
	m.logger.Warn("counter store failure treated as no signal",
		"op", op,
		"key", key,
		"error", err,
	)
	return 0, nil
}
