package store

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Conditional expiries run as scripts so the check and the PEXPIRE are atomic.
var (
	expireIfExistsScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return 0
	`)

	expireIfPersistentScript = redis.NewScript(`
		if redis.call('PTTL', KEYS[1]) == -1 then
			return redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return 0
	`)
)

// RedisStore implements CounterStore on Redis.
// Every call is bounded by the configured operation timeout and failures
// are reported as domain.ErrStoreUnavailable.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg domain.StoreConfig) (*RedisStore, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: dialTimeout,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.OpTimeout), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, opTimeout time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, opTimeout: opTimeout}
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) fail(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", domain.ErrStoreUnavailable, op, key, err)
}

// Increment runs INCR on key.
func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.Incr(ctx, s.makeKey(key)).Result()
	if err != nil {
		return 0, s.fail("incr", key, err)
	}
	return n, nil
}

// AddMember runs SADD on key.
func (s *RedisStore) AddMember(ctx context.Context, key, member string) (domain.MemberAdd, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.SAdd(ctx, s.makeKey(key), member).Result()
	if err != nil {
		return domain.MemberUnknown, s.fail("sadd", key, err)
	}
	if n == 1 {
		return domain.MemberAdded, nil
	}
	return domain.MemberExisted, nil
}

// DistinctSize runs SCARD on key.
func (s *RedisStore) DistinctSize(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.SCard(ctx, s.makeKey(key)).Result()
	if err != nil {
		return 0, s.fail("scard", key, err)
	}
	return n, nil
}

// Expire runs PEXPIRE on key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.PExpire(ctx, s.makeKey(key), ttl).Err(); err != nil {
		return s.fail("pexpire", key, err)
	}
	return nil
}

// ExpireIfExists sets the TTL only when key exists.
func (s *RedisStore) ExpireIfExists(ctx context.Context, key string, ttl time.Duration) error {
	return s.runExpireScript(ctx, expireIfExistsScript, "expire-if-exists", key, ttl)
}

// ExpireIfPersistent sets the TTL only when key exists without one.
func (s *RedisStore) ExpireIfPersistent(ctx context.Context, key string, ttl time.Duration) error {
	return s.runExpireScript(ctx, expireIfPersistentScript, "expire-if-persistent", key, ttl)
}

func (s *RedisStore) runExpireScript(ctx context.Context, script *redis.Script, op, key string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := script.Run(ctx, s.client, []string{s.makeKey(key)}, ttl.Milliseconds()).Err()
	if err != nil && err != redis.Nil {
		return s.fail(op, key, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) makeKey(key string) string {
	return s.prefix + key
}
