package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotAcquired is returned when the lock is still held once ctx ends.
var ErrLockNotAcquired = errors.New("redis lock not acquired")

const (
	defaultLockTTL   = 30 * time.Second
	lockRetryBackoff = 50 * time.Millisecond
	unlockTimeout    = 2 * time.Second
)

// LockStore is the subset of Client used by Locker.
type LockStore interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	LockKey(resource string) string
}

// Locker is a distributed mutex keyed by resource name. Each acquisition
// writes a random token so only the holder can release it; the TTL bounds how
// long a crashed holder blocks others.
type Locker struct {
	store LockStore
	ttl   time.Duration
}

func NewLocker(store LockStore, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{store: store, ttl: ttl}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, resource string) (func(), error) {
	key := l.store.LockKey(resource)
	token := uuid.NewString()
	for {
		ok, err := l.store.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
				defer cancel()
				_, _ = l.store.CompareAndDelete(unlockCtx, key, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-time.After(lockRetryBackoff):
		}
	}
}
