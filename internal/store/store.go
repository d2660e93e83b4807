package store

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// New creates a counter store based on configuration.
// For "memory": returns MemoryStore.
// For "redis": returns RedisStore when the server answers a PING, otherwise
// falls back to MemoryStore.
// The selected backend is logged once.
func New(cfg domain.StoreConfig, logger *slog.Logger) (domain.CounterStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "", "memory":
		logger.Info("counter store selected", "backend", "memory")
		return NewMemoryStore(WithSweepInterval(cfg.SweepInterval)), nil

	case "redis":
		rs, err := NewRedisStore(cfg)
		if err != nil {
			logger.Warn("redis unreachable, falling back to in-memory counter store",
				"addr", cfg.RedisAddr,
				"error", err,
			)
			return NewMemoryStore(WithSweepInterval(cfg.SweepInterval)), nil
		}
		logger.Info("counter store selected",
			"backend", "redis",
			"addr", cfg.RedisAddr,
			"key_prefix", cfg.KeyPrefix,
		)
		return rs, nil

	default:
		return nil, fmt.Errorf("unsupported counter store type: %s", cfg.Type)
	}
}
