package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	guardProvider = "razorpay"

	markerProcessing = "processing"
	markerProcessed  = "processed"

	memorySweepThreshold = 4096
)

// GuardState is the result of claiming an event id.
type GuardState int

const (
	// StateClaimed means the caller owns the event and must Complete or Abort it.
	StateClaimed GuardState = iota
	// StateProcessed means the event was applied by an earlier delivery.
	StateProcessed
	// StateInFlight means another delivery currently holds the event.
	StateInFlight
)

// EventGuard records which webhook events have been applied. A claim is a
// short lease; only Complete makes it permanent.
type EventGuard interface {
	Begin(ctx context.Context, eventID string) (GuardState, error)
	Complete(ctx context.Context, eventID string) error
	Abort(ctx context.Context, eventID string) error
}

type guardStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

type RedisGuard struct {
	store        guardStore
	lease        time.Duration
	processedTTL time.Duration
}

func NewRedisGuard(store guardStore, lease, processedTTL time.Duration) (*RedisGuard, error) {
	if store == nil {
		return nil, errors.New("guard store is required")
	}
	if lease <= 0 || processedTTL <= 0 {
		return nil, errors.New("guard ttls must be positive")
	}
	return &RedisGuard{store: store, lease: lease, processedTTL: processedTTL}, nil
}

func (g *RedisGuard) Begin(ctx context.Context, eventID string) (GuardState, error) {
	if eventID == "" {
		return StateInFlight, errors.New("event id is required")
	}
	key := g.store.WebhookEventKey(guardProvider, eventID)
	claimed, err := g.store.SetNX(ctx, key, markerProcessing, g.lease)
	if err != nil {
		return StateInFlight, fmt.Errorf("claim webhook event: %w", err)
	}
	if claimed {
		return StateClaimed, nil
	}
	marker, err := g.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// lease expired between the two calls; let the gateway retry
			return StateInFlight, nil
		}
		return StateInFlight, fmt.Errorf("read webhook event marker: %w", err)
	}
	if marker == markerProcessed {
		return StateProcessed, nil
	}
	return StateInFlight, nil
}

func (g *RedisGuard) Complete(ctx context.Context, eventID string) error {
	return g.store.Set(ctx, g.store.WebhookEventKey(guardProvider, eventID), markerProcessed, g.processedTTL)
}

func (g *RedisGuard) Abort(ctx context.Context, eventID string) error {
	return g.store.Del(ctx, g.store.WebhookEventKey(guardProvider, eventID))
}

// MemoryGuard is the single-process EventGuard used when Redis is not configured.
type MemoryGuard struct {
	mu           sync.Mutex
	entries      map[string]guardEntry
	lease        time.Duration
	processedTTL time.Duration
	now          func() time.Time
}

type guardEntry struct {
	processed bool
	expiresAt time.Time
}

func NewMemoryGuard(lease, processedTTL time.Duration) *MemoryGuard {
	return &MemoryGuard{
		entries:      make(map[string]guardEntry),
		lease:        lease,
		processedTTL: processedTTL,
		now:          time.Now,
	}
}

func (g *MemoryGuard) Begin(_ context.Context, eventID string) (GuardState, error) {
	if eventID == "" {
		return StateInFlight, errors.New("event id is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if len(g.entries) >= memorySweepThreshold {
		g.sweep(now)
	}
	if entry, ok := g.entries[eventID]; ok && now.Before(entry.expiresAt) {
		if entry.processed {
			return StateProcessed, nil
		}
		return StateInFlight, nil
	}
	g.entries[eventID] = guardEntry{expiresAt: now.Add(g.lease)}
	return StateClaimed, nil
}

func (g *MemoryGuard) Complete(_ context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[eventID] = guardEntry{processed: true, expiresAt: g.now().Add(g.processedTTL)}
	return nil
}

func (g *MemoryGuard) Abort(_ context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, eventID)
	return nil
}

func (g *MemoryGuard) sweep(now time.Time) {
	for id, entry := range g.entries {
		if !now.Before(entry.expiresAt) {
			delete(g.entries, id)
		}
	}
}
