package orgchart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// IdempotencyStore remembers which outbox events were already delivered. The
// dispatcher checks Seen before sending and marks after, so delivery is at
// least once: two dispatchers racing on one event may both send it.
type IdempotencyStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// NewIdempotencyStore returns a redis-backed store when the service has a
// redis client, and an in-memory store otherwise.
func (s *Service) NewIdempotencyStore(ttl time.Duration) IdempotencyStore {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if s.redis == nil {
		return newMemoryStore(ttl, s.now)
	}
	return &redisStore{client: s.redis, prefix: s.cachePrefix, ttl: ttl}
}

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// getCacheKey generates the redis key for a processed event.
func (r *redisStore) getCacheKey(eventID string) string {
	return fmt.Sprintf("%soutbox:processed:%s", r.prefix, eventID)
}

func (r *redisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.getCacheKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed uses SETNX so a repeated mark keeps the first delivery time.
func (r *redisStore) MarkProcessed(ctx context.Context, eventID string) error {
	return r.client.SetNX(ctx, r.getCacheKey(eventID), time.Now().Unix(), r.ttl).Err()
}

type memoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newMemoryStore(ttl time.Duration, now func() time.Time) *memoryStore {
	return &memoryStore{seen: make(map[string]time.Time), ttl: ttl, now: now}
}

func (m *memoryStore) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[eventID]
	if !ok {
		return false, nil
	}
	if m.now().Sub(at) > m.ttl {
		delete(m.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (m *memoryStore) MarkProcessed(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; !ok {
		m.seen[eventID] = m.now()
	}
	return nil
}
