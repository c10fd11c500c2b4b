package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

// RevocationStore records the latest revocation time per user.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, uid string, at time.Time) error
	RevokedAt(ctx context.Context, uid string) (time.Time, bool, error)
}

type revocationRedis interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	RevocationKey(userID string) string
}

// RedisRevocationStore keeps revocation markers in Redis. Markers expire after
// ttl, which must be at least the session lifetime.
type RedisRevocationStore struct {
	client revocationRedis
	ttl    time.Duration
}

func NewRedisRevocationStore(client revocationRedis, ttl time.Duration) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, ttl: ttl}
}

func (s *RedisRevocationStore) MarkRevoked(ctx context.Context, uid string, at time.Time) error {
	return s.client.Set(ctx, s.client.RevocationKey(uid), strconv.FormatInt(at.Unix(), 10), s.ttl)
}

func (s *RedisRevocationStore) RevokedAt(ctx context.Context, uid string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.client.RevocationKey(uid))
	if errors.Is(err, redislib.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(unix, 0), true, nil
}

// MemoryRevocationStore is a process-local RevocationStore.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]time.Time)}
}

func (s *MemoryRevocationStore) MarkRevoked(_ context.Context, uid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[uid] = at
	return nil
}

func (s *MemoryRevocationStore) RevokedAt(_ context.Context, uid string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.revoked[uid]
	return at, ok, nil
}
