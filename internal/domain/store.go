package domain

import (
	"context"
	"time"
)

// MemberAdd reports what a set insert did.
type MemberAdd int

const (
	// MemberUnknown means the backend cannot tell whether the member was new.
	// Callers must not branch on it.
	MemberUnknown MemberAdd = iota
	MemberAdded
	MemberExisted
)

// CounterStore is the narrow key/value surface the rules count against.
// Missing keys are never errors: counters read as zero and sets as empty.
type CounterStore interface {
	// Increment atomically adds one to key and returns the new value.
	// An absent or expired counter starts from zero.
	Increment(ctx context.Context, key string) (int64, error)

	// AddMember inserts member into the set stored at key.
	AddMember(ctx context.Context, key, member string) (MemberAdd, error)

	// DistinctSize returns the cardinality of the set at key without
	// touching its TTL. May return ErrUnsupported.
	DistinctSize(ctx context.Context, key string) (int64, error)

	// Expire sets or replaces the TTL of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ExpireIfExists sets the TTL only when key currently exists.
	ExpireIfExists(ctx context.Context, key string, ttl time.Duration) error

	// ExpireIfPersistent sets the TTL only when key exists without one.
	// Fixed windows use it to anchor a period exactly once.
	ExpireIfPersistent(ctx context.Context, key string, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for counter store selection.
type StoreConfig struct {
	// Type is the store type: "memory" or "redis"
	Type string `yaml:"type"`

	// In-process store
	SweepInterval time.Duration `yaml:"sweepInterval"`

	// Redis settings
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	KeyPrefix     string        `yaml:"keyPrefix"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	OpTimeout     time.Duration `yaml:"opTimeout"`
}
