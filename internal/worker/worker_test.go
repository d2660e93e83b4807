package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/riskguard/internal/bus"
	"github.com/opensource-finance/riskguard/internal/challenge"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/repository"
)

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*domain.OutcomeRecord
	err     error
}

func (r *memoryRepo) SaveOutcome(ctx context.Context, rec *domain.OutcomeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.records == nil {
		r.records = make(map[string]*domain.OutcomeRecord)
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *memoryRepo) GetOutcome(ctx context.Context, id string) (*domain.OutcomeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) ListOutcomes(ctx context.Context, filter domain.OutcomeFilter) ([]*domain.OutcomeRecord, error) {
	return nil, nil
}

func (r *memoryRepo) Ping(ctx context.Context) error { return nil }
func (r *memoryRepo) Close() error                   { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func publishBlock(t *testing.T, b domain.EventBus, user string) *domain.ChallengeOutcome {
	t.Helper()
	c := &challenge.Context{
		Risk:     &domain.RiskContext{Action: "login", UserID: user, IP: "10.0.0.1"},
		Result:   &domain.RiskResult{Score: 90, Reasons: []string{"BAD:90"}},
		Decision: domain.DecisionBlock,
		Reason:   "[BAD:90] states={bad=true}",
		Policy:   domain.DefaultChallengePolicy(),
	}
	res := challenge.DefaultBlockHandler{}.HandleBlock(context.Background(), c)
	if err := challenge.NewBusListener(b).OnOutcome(context.Background(), res.Outcome, c); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	return res.Outcome
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &memoryRepo{})

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicOutcome {
			t.Errorf("expected topic %s, got %s", domain.TopicOutcome, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("PersistsOutcome", func(t *testing.T) {
		repo := &memoryRepo{}
		w := NewWorker(eventBus, repo)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		outcome := publishBlock(t, eventBus, "alice")
		waitFor(t, func() bool { return w.GetStats().Processed == 1 })

		rec, err := repo.GetOutcome(context.Background(), outcome.ID)
		if err != nil {
			t.Fatalf("outcome not stored: %v", err)
		}
		if rec.Status != domain.DecisionBlock || rec.Decision != domain.DecisionBlock {
			t.Errorf("unexpected status %s / decision %s", rec.Status, rec.Decision)
		}
		if rec.UserID != "alice" || rec.Score != 90 {
			t.Errorf("unexpected record: %+v", rec)
		}
		if !rec.Permanent || rec.TTLSeconds != int64((365*24*time.Hour)/time.Second) {
			t.Errorf("expected permanent outcome, got permanent=%v ttl=%d", rec.Permanent, rec.TTLSeconds)
		}
	})

	t.Run("CountsFailures", func(t *testing.T) {
		w := NewWorker(eventBus, &memoryRepo{err: errors.New("disk full")})
		if err := w.Start(Config{Topics: []string{"failing.topic"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		eventBus.Publish(context.Background(), "failing.topic", []byte(`{"outcome":{"id":"x"}}`))
		eventBus.Publish(context.Background(), "failing.topic", []byte("not json"))

		waitFor(t, func() bool { return w.GetStats().Failed == 2 })
		if w.GetStats().Processed != 0 {
			t.Errorf("expected nothing processed, got %d", w.GetStats().Processed)
		}
	})
}

func TestWorkerWithSQLite(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "outcomes.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, repo)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	outcome := publishBlock(t, eventBus, "bob")
	waitFor(t, func() bool { return w.GetStats().Processed == 1 })

	list, err := repo.ListOutcomes(context.Background(), domain.OutcomeFilter{UserID: "bob"})
	if err != nil {
		t.Fatalf("ListOutcomes failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != outcome.ID {
		t.Fatalf("expected stored outcome %s, got %+v", outcome.ID, list)
	}
	if list[0].Metadata["score"] != float64(90) {
		t.Errorf("expected metadata score 90, got %v", list[0].Metadata["score"])
	}
}
