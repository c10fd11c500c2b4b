package ledger

import (
	"context"
	"fmt"
	"strings"
)

const (
	orderKeyPrefix   = "order:"
	receiptKeyPrefix = "receipt:"
	idemKeyPrefix    = "idempotency:"
)

// Service pairs a Store with a Locker so every read-modify-write on one order
// runs alone, whichever entry point (verification, webhook, capture) started it.
type Service struct {
	store  Store
	locker Locker
}

func NewService(store Store, locker Locker) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if locker == nil {
		return nil, fmt.Errorf("ledger locker required")
	}
	return &Service{store: store, locker: locker}, nil
}

// Store exposes the underlying store for reads and locked mutations.
func (s *Service) Store() Store {
	return s.store
}

// WithOrderLock runs fn while holding the lock for orderID.
func (s *Service) WithOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context, store Store) error) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidPayment)
	}
	return s.withLock(ctx, fn, orderKeyPrefix+orderID)
}

// WithCreationLock serializes order creation for the supplied receipt id and
// idempotency key. Keys are taken in a fixed order so overlapping requests
// cannot deadlock.
func (s *Service) WithCreationLock(ctx context.Context, receiptID, idempotencyKey string, fn func(ctx context.Context, store Store) error) error {
	var keys []string
	if receiptID != "" {
		keys = append(keys, receiptKeyPrefix+receiptID)
	}
	if idempotencyKey != "" {
		keys = append(keys, idemKeyPrefix+idempotencyKey)
	}
	return s.withLock(ctx, fn, keys...)
}

func (s *Service) withLock(ctx context.Context, fn func(ctx context.Context, store Store) error, keys ...string) error {
	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, key)
		if err != nil {
			return fmt.Errorf("acquire ledger lock %s: %w", key, err)
		}
		defer unlock()
	}
	return fn(ctx, s.store)
}
