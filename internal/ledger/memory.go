package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
)

// MemoryStore is a process-local Store. Records are copied on the way in and
// out so callers never share mutable state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	payments    map[uuid.UUID]*models.Payment
	byOrder     map[string]uuid.UUID
	byPayment   map[string]uuid.UUID
	byReceipt   map[string]uuid.UUID
	byIdemKey   map[string]uuid.UUID
	refunds     map[string]*models.Refund
	refundOrder map[uuid.UUID][]string
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:    make(map[uuid.UUID]*models.Payment),
		byOrder:     make(map[string]uuid.UUID),
		byPayment:   make(map[string]uuid.UUID),
		byReceipt:   make(map[string]uuid.UUID),
		byIdemKey:   make(map[string]uuid.UUID),
		refunds:     make(map[string]*models.Refund),
		refundOrder: make(map[uuid.UUID][]string),
		now:         time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, draft *models.Payment) (*models.Payment, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: payment is required", ErrInvalidPayment)
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	p := draft.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byOrder[p.OrderID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, p.OrderID)
	}
	if p.ReceiptID != nil {
		if _, exists := s.byReceipt[*p.ReceiptID]; exists {
			return nil, fmt.Errorf("%w: receipt %s", ErrDuplicateOrder, *p.ReceiptID)
		}
	}
	if p.IdempotencyKey != nil {
		if _, exists := s.byIdemKey[*p.IdempotencyKey]; exists {
			return nil, fmt.Errorf("%w: idempotency key reused", ErrDuplicateOrder)
		}
	}
	prepareDraft(p, s.now())
	if _, exists := s.payments[p.ID]; exists {
		return nil, fmt.Errorf("%w: id %s", ErrDuplicateOrder, p.ID)
	}

	s.payments[p.ID] = p
	s.byOrder[p.OrderID] = p.ID
	if p.PaymentID != nil {
		s.byPayment[*p.PaymentID] = p.ID
	}
	if p.ReceiptID != nil {
		s.byReceipt[*p.ReceiptID] = p.ID
	}
	if p.IdempotencyKey != nil {
		s.byIdemKey[*p.IdempotencyKey] = p.ID
	}
	return p.Clone(), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id, true)
}

func (s *MemoryStore) FindByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrder[orderID]
	return s.lookup(id, ok)
}

func (s *MemoryStore) FindByPaymentID(_ context.Context, paymentID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPayment[paymentID]
	return s.lookup(id, ok)
}

func (s *MemoryStore) FindByReceiptOrIdempotencyKey(_ context.Context, receiptID, idempotencyKey string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if receiptID != "" {
		if id, ok := s.byReceipt[receiptID]; ok {
			return s.lookup(id, true)
		}
	}
	if idempotencyKey != "" {
		if id, ok := s.byIdemKey[idempotencyKey]; ok {
			return s.lookup(id, true)
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, patch Patch) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := applyPatch(next, patch, s.now()); err != nil {
		return nil, err
	}
	s.payments[id] = next
	if old := current.GatewayPaymentID(); old != "" && old != next.GatewayPaymentID() && s.byPayment[old] == id {
		delete(s.byPayment, old)
	}
	if next.PaymentID != nil {
		s.byPayment[*next.PaymentID] = id
	}
	return next.Clone(), nil
}

func (s *MemoryStore) AddRefund(_ context.Context, paymentID string, draft *models.Refund) (*models.Refund, *models.Payment, error) {
	if draft == nil {
		return nil, nil, fmt.Errorf("%w: refund is required", ErrInvalidRefund)
	}
	refund := draft.Clone()
	if err := validateRefundDraft(refund); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPayment[paymentID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	payment := s.payments[id].Clone()
	if _, exists := s.refunds[refund.RefundID]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateRefund, refund.RefundID)
	}
	if !acceptsRefunds(payment.Status) {
		return nil, nil, fmt.Errorf("%w: cannot refund a %s payment", ErrInvalidTransition, payment.Status)
	}
	existing := s.refundsFor(id)
	if err := checkRefundCapacity(payment, existing, refund); err != nil {
		return nil, nil, err
	}

	now := s.now()
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	refund.PaymentRecordID = payment.ID
	refund.PaymentID = paymentID
	refund.CreatedAt = now
	refund.UpdatedAt = now

	deriveRefundStatus(payment, append(existing, *refund), now)
	s.refunds[refund.RefundID] = refund
	s.refundOrder[payment.ID] = append(s.refundOrder[payment.ID], refund.RefundID)
	s.payments[payment.ID] = payment
	return refund.Clone(), payment.Clone(), nil
}

func (s *MemoryStore) UpdateRefund(_ context.Context, refundID string, status enums.RefundStatus) (*models.Refund, *models.Payment, error) {
	if !status.IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRefund, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.refunds[refundID]
	if !ok {
		return nil, nil, ErrRefundNotFound
	}
	payment := s.payments[current.PaymentRecordID].Clone()
	if current.Status == status {
		return current.Clone(), payment, nil
	}

	updated := current.Clone()
	updated.Status = status
	others := make([]models.Refund, 0)
	for _, r := range s.refundsFor(payment.ID) {
		if r.RefundID != refundID {
			others = append(others, r)
		}
	}
	if err := checkRefundCapacity(payment, others, updated); err != nil {
		return nil, nil, err
	}

	now := s.now()
	updated.UpdatedAt = now
	deriveRefundStatus(payment, append(others, *updated), now)
	s.refunds[refundID] = updated
	s.payments[payment.ID] = payment
	return updated.Clone(), payment.Clone(), nil
}

func (s *MemoryStore) FindRefund(_ context.Context, refundID string) (*models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refunds[refundID]
	if !ok {
		return nil, ErrRefundNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRefunds(_ context.Context, paymentRecordID uuid.UUID) ([]models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refundsFor(paymentRecordID), nil
}

func (s *MemoryStore) lookup(id uuid.UUID, ok bool) (*models.Payment, error) {
	if !ok {
		return nil, ErrNotFound
	}
	p, exists := s.payments[id]
	if !exists {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) refundsFor(paymentRecordID uuid.UUID) []models.Refund {
	ids := s.refundOrder[paymentRecordID]
	out := make([]models.Refund, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.refunds[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
