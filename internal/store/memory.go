// Package store provides counter store implementations for riskguard.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// MemoryStore is an in-process CounterStore.
// Each key owns its own lock, so traffic on one key never serialises others.
type MemoryStore struct {
	entries sync.Map // string -> *entry
	now     func() time.Time

	sweepInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

type entry struct {
	mu       sync.Mutex
	count    int64
	members  map[string]struct{}
	expireAt time.Time // zero means no expiry

	// dead marks an entry that was unlinked from the map. Writers that
	// still hold a pointer to it must retry against a fresh entry.
	dead bool
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithSweepInterval starts a janitor that drops expired keys periodically.
// Without it expired keys are only dropped when touched.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepInterval = d }
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepInterval > 0 {
		go s.sweepLoop(s.sweepInterval)
	}
	return s
}

// live returns a locked, non-expired entry for key, creating one if needed.
// The caller must unlock it.
func (s *MemoryStore) live(key string) *entry {
	for {
		v, _ := s.entries.LoadOrStore(key, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if e.expired(s.now()) {
			s.kill(key, e)
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// existing returns a locked, non-expired entry for key or nil.
// Expired entries found on the way are removed.
func (s *MemoryStore) existing(key string) *entry {
	v, ok := s.entries.Load(key)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return nil
	}
	if e.expired(s.now()) {
		s.kill(key, e)
		e.mu.Unlock()
		return nil
	}
	return e
}

// kill unlinks e. Must be called with e.mu held.
func (s *MemoryStore) kill(key string, e *entry) {
	e.dead = true
	s.entries.CompareAndDelete(key, e)
}

// Increment atomically increments the counter at key.
func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	e := s.live(key)
	defer e.mu.Unlock()
	e.count++
	return e.count, nil
}

// AddMember adds member to the set at key.
func (s *MemoryStore) AddMember(ctx context.Context, key, member string) (domain.MemberAdd, error) {
	e := s.live(key)
	defer e.mu.Unlock()
	if e.members == nil {
		e.members = make(map[string]struct{})
	}
	if _, ok := e.members[member]; ok {
		return domain.MemberExisted, nil
	}
	e.members[member] = struct{}{}
	return domain.MemberAdded, nil
}

// DistinctSize returns the number of members in the set at key.
func (s *MemoryStore) DistinctSize(ctx context.Context, key string) (int64, error) {
	e := s.existing(key)
	if e == nil {
		return 0, nil
	}
	defer e.mu.Unlock()
	return int64(len(e.members)), nil
}

// Expire sets the TTL of an existing key. A non-positive ttl removes it.
// Missing keys are left alone.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	e := s.existing(key)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	s.setTTL(key, e, ttl)
	return nil
}

// ExpireIfExists sets the TTL only if key is currently live.
func (s *MemoryStore) ExpireIfExists(ctx context.Context, key string, ttl time.Duration) error {
	return s.Expire(ctx, key, ttl)
}

// ExpireIfPersistent sets the TTL only if key is live and has none yet.
func (s *MemoryStore) ExpireIfPersistent(ctx context.Context, key string, ttl time.Duration) error {
	e := s.existing(key)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	if e.expireAt.IsZero() {
		s.setTTL(key, e, ttl)
	}
	return nil
}

func (s *MemoryStore) setTTL(key string, e *entry, ttl time.Duration) {
	if ttl <= 0 {
		s.kill(key, e)
		return
	}
	e.expireAt = s.now().Add(ttl)
}

// TTL returns the remaining lifetime of key, -1 for a persistent key and
// -2 for a missing one, mirroring Redis PTTL.
func (s *MemoryStore) TTL(key string) time.Duration {
	e := s.existing(key)
	if e == nil {
		return -2
	}
	defer e.mu.Unlock()
	if e.expireAt.IsZero() {
		return -1
	}
	return e.expireAt.Sub(s.now())
}

// Sweep drops every expired key and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.dead && e.expired(now) {
			s.kill(k.(string), e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of keys currently held, expired or not.
func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Ping checks store health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor and drops all keys.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.entries.Range(func(k, _ any) bool {
		s.entries.Delete(k)
		return true
	})
	return nil
}
