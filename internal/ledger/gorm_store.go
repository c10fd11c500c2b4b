package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/enrollpay-backend/internal/repo"
	"github.com/angelmondragon/enrollpay-backend/pkg/db"
	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
)

// GormStore is the durable Store backed by the payments and refunds tables.
// Multi-row changes run in a transaction; per-order serialization is the
// caller's job (see Service).
type GormStore struct {
	repo.Base
	now func() time.Time
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{Base: repo.NewBase(conn), now: time.Now}
}

func (s *GormStore) Create(ctx context.Context, draft *models.Payment) (*models.Payment, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: payment is required", ErrInvalidPayment)
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	p := draft.Clone()
	prepareDraft(p, s.now())
	if err := s.DB(ctx).Create(p).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, p.OrderID)
		}
		return nil, err
	}
	return p, nil
}

func (s *GormStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.first(s.DB(ctx).Where("id = ?", id))
}

func (s *GormStore) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return s.first(s.DB(ctx).Where("order_id = ?", orderID))
}

func (s *GormStore) FindByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.first(s.DB(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC"))
}

func (s *GormStore) FindByReceiptOrIdempotencyKey(ctx context.Context, receiptID, idempotencyKey string) (*models.Payment, error) {
	if receiptID != "" {
		p, err := s.first(s.DB(ctx).Where("receipt_id = ?", receiptID))
		if !errors.Is(err, ErrNotFound) {
			return p, err
		}
	}
	if idempotencyKey != "" {
		return s.first(s.DB(ctx).Where("idempotency_key = ?", idempotencyKey))
	}
	return nil, ErrNotFound
}

func (s *GormStore) Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Payment, error) {
	var out *models.Payment
	err := s.Tx(ctx, func(tx *gorm.DB) error {
		p, err := s.first(repo.ForUpdate(tx).Where("id = ?", id))
		if err != nil {
			return err
		}
		if err := applyPatch(p, patch, s.now()); err != nil {
			return err
		}
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) AddRefund(ctx context.Context, paymentID string, draft *models.Refund) (*models.Refund, *models.Payment, error) {
	if draft == nil {
		return nil, nil, fmt.Errorf("%w: refund is required", ErrInvalidRefund)
	}
	refund := draft.Clone()
	if err := validateRefundDraft(refund); err != nil {
		return nil, nil, err
	}

	var payment *models.Payment
	err := s.Tx(ctx, func(tx *gorm.DB) error {
		p, err := s.first(repo.ForUpdate(tx).Where("payment_id = ?", paymentID).Order("created_at ASC"))
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
		}
		if err != nil {
			return err
		}
		if _, err := s.findRefund(tx, refund.RefundID); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateRefund, refund.RefundID)
		} else if !errors.Is(err, ErrRefundNotFound) {
			return err
		}
		if !acceptsRefunds(p.Status) {
			return fmt.Errorf("%w: cannot refund a %s payment", ErrInvalidTransition, p.Status)
		}
		existing, err := s.listRefunds(tx, p.ID)
		if err != nil {
			return err
		}
		if err := checkRefundCapacity(p, existing, refund); err != nil {
			return err
		}

		now := s.now()
		if refund.ID == uuid.Nil {
			refund.ID = uuid.New()
		}
		refund.PaymentRecordID = p.ID
		refund.PaymentID = paymentID
		refund.CreatedAt = now
		refund.UpdatedAt = now
		if err := tx.Create(refund).Error; err != nil {
			if db.IsUniqueViolation(err, "") {
				return fmt.Errorf("%w: %s", ErrDuplicateRefund, refund.RefundID)
			}
			return err
		}
		deriveRefundStatus(p, append(existing, *refund), now)
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return refund, payment, nil
}

func (s *GormStore) UpdateRefund(ctx context.Context, refundID string, status enums.RefundStatus) (*models.Refund, *models.Payment, error) {
	if !status.IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRefund, status)
	}

	var (
		refund  *models.Refund
		payment *models.Payment
	)
	err := s.Tx(ctx, func(tx *gorm.DB) error {
		r, err := s.findRefund(tx, refundID)
		if err != nil {
			return err
		}
		p, err := s.first(repo.ForUpdate(tx).Where("id = ?", r.PaymentRecordID))
		if err != nil {
			return err
		}
		if r.Status == status {
			refund, payment = r, p
			return nil
		}
		all, err := s.listRefunds(tx, p.ID)
		if err != nil {
			return err
		}
		others := make([]models.Refund, 0, len(all))
		for _, existing := range all {
			if existing.RefundID != refundID {
				others = append(others, existing)
			}
		}
		r.Status = status
		if err := checkRefundCapacity(p, others, r); err != nil {
			return err
		}
		now := s.now()
		r.UpdatedAt = now
		if err := tx.Save(r).Error; err != nil {
			return err
		}
		deriveRefundStatus(p, append(others, *r), now)
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		refund, payment = r, p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return refund, payment, nil
}

func (s *GormStore) FindRefund(ctx context.Context, refundID string) (*models.Refund, error) {
	return s.findRefund(s.DB(ctx), refundID)
}

func (s *GormStore) ListRefunds(ctx context.Context, paymentRecordID uuid.UUID) ([]models.Refund, error) {
	return s.listRefunds(s.DB(ctx), paymentRecordID)
}

func (s *GormStore) first(query *gorm.DB) (*models.Payment, error) {
	var p models.Payment
	if err := query.First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) findRefund(tx *gorm.DB, refundID string) (*models.Refund, error) {
	var r models.Refund
	if err := tx.Where("refund_id = ?", refundID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) listRefunds(tx *gorm.DB, paymentRecordID uuid.UUID) ([]models.Refund, error) {
	var refunds []models.Refund
	if err := tx.Where("payment_record_id = ?", paymentRecordID).
		Order("created_at ASC").
		Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}
