package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
)

// Store persists Payment and Refund records. Each method is atomic on its
// own; callers serialize read-modify-write sequences per order with Service.
type Store interface {
	Create(ctx context.Context, draft *models.Payment) (*models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	FindByReceiptOrIdempotencyKey(ctx context.Context, receiptID, idempotencyKey string) (*models.Payment, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Payment, error)
	AddRefund(ctx context.Context, paymentID string, draft *models.Refund) (*models.Refund, *models.Payment, error)
	UpdateRefund(ctx context.Context, refundID string, status enums.RefundStatus) (*models.Refund, *models.Payment, error)
	FindRefund(ctx context.Context, refundID string) (*models.Refund, error)
	ListRefunds(ctx context.Context, paymentRecordID uuid.UUID) ([]models.Refund, error)
}

// Patch lists the fields to merge into a Payment; nil fields are left alone.
// OrderID, Amount and Currency may only repeat their current value.
type Patch struct {
	OrderID    *string
	Amount     *decimal.Decimal
	Currency   *string
	PaymentID  *string
	Status     *enums.PaymentStatus
	Method     *string
	UserID     *string
	UserEmail  *string
	PaidAt     *time.Time
	Metadata   map[string]any
	Reconciled *bool
}

func validateDraft(p *models.Payment) error {
	if strings.TrimSpace(p.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidPayment)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidPayment)
	}
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidPayment)
	}
	return nil
}

// prepareDraft fills identity, defaults and timestamps on a new Payment.
func prepareDraft(p *models.Payment, now time.Time) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Currency = string(enums.NormalizeCurrency(p.Currency, enums.CurrencyINR))
	if p.Status == "" {
		p.Status = enums.PaymentStatusCreated
	}
	if p.Status.IsSettled() && p.PaidAt == nil {
		paid := now
		p.PaidAt = &paid
	}
	p.CreatedAt = now
	p.UpdatedAt = now
}

// applyPatch merges patch into p, enforcing immutability, forward-only status
// and a single paidAt.
func applyPatch(p *models.Payment, patch Patch, now time.Time) error {
	if patch.OrderID != nil && *patch.OrderID != p.OrderID {
		return fmt.Errorf("%w: orderId", ErrImmutableField)
	}
	if patch.Amount != nil && !patch.Amount.Equal(p.Amount) {
		return fmt.Errorf("%w: amount", ErrImmutableField)
	}
	if patch.Currency != nil && !strings.EqualFold(*patch.Currency, p.Currency) {
		return fmt.Errorf("%w: currency", ErrImmutableField)
	}
	if patch.Status != nil {
		if err := applyStatus(p, *patch.Status, patch.PaidAt, now); err != nil {
			return err
		}
	}
	if patch.PaymentID != nil && *patch.PaymentID != "" {
		v := *patch.PaymentID
		p.PaymentID = &v
	}
	if patch.Method != nil && *patch.Method != "" {
		v := *patch.Method
		p.Method = &v
	}
	if patch.UserID != nil {
		v := *patch.UserID
		p.UserID = &v
	}
	if patch.UserEmail != nil {
		v := *patch.UserEmail
		p.UserEmail = &v
	}
	if patch.Reconciled != nil {
		p.Reconciled = *patch.Reconciled
	}
	if len(patch.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = v
		}
	}
	p.UpdatedAt = now
	return nil
}

func applyStatus(p *models.Payment, next enums.PaymentStatus, paidAt *time.Time, now time.Time) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	current := p.Status
	switch {
	case next == current:
	case current.IsSettled() && next.IsSettled() && !current.CanTransitionTo(next):
		// already settled; re-entering the settled class changes nothing
	case current.CanTransitionTo(next):
		p.Status = next
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	if p.Status.IsSettled() && p.PaidAt == nil {
		at := now
		if paidAt != nil {
			at = *paidAt
		}
		p.PaidAt = &at
	}
	return nil
}

func validateRefundDraft(r *models.Refund) error {
	if strings.TrimSpace(r.RefundID) == "" {
		return fmt.Errorf("%w: refund id is required", ErrInvalidRefund)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidRefund)
	}
	if r.Status == "" {
		r.Status = enums.RefundStatusPending
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRefund, r.Status)
	}
	return nil
}

// acceptsRefunds reports whether a refund may be recorded in status s. A
// refunded payment regains capacity when one of its refunds fails; the amount
// check guards the rest.
func acceptsRefunds(s enums.PaymentStatus) bool {
	return s.IsRefundable() || s == enums.PaymentStatusRefunded
}

// refundedTotal sums refunds that still reserve part of the payment.
func refundedTotal(refunds []models.Refund) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		if r.Status.CountsTowardTotal() {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// checkRefundCapacity rejects refunds whose reserved total would pass the payment amount.
func checkRefundCapacity(p *models.Payment, existing []models.Refund, candidate *models.Refund) error {
	if !candidate.Status.CountsTowardTotal() {
		return nil
	}
	total := refundedTotal(existing).Add(candidate.Amount)
	if total.GreaterThan(p.Amount) {
		return fmt.Errorf("%w: %s of %s", ErrRefundExceedsAmount, total.String(), p.Amount.String())
	}
	return nil
}

// metaSettledStatus records the settled status a payment held before its
// first refund.
const metaSettledStatus = "settledStatus"

// deriveRefundStatus sets the payment status from the reserved refund total.
// When no refund reserves anything any more, a refunded payment returns to the
// settled status it had before refunding.
func deriveRefundStatus(p *models.Payment, refunds []models.Refund, now time.Time) {
	total := refundedTotal(refunds)
	if total.IsZero() {
		if p.Status != enums.PaymentStatusRefunded && p.Status != enums.PaymentStatusPartiallyRefunded {
			return
		}
		p.Status = settledBeforeRefund(p)
		p.UpdatedAt = now
		return
	}
	if p.Status.IsSettled() {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, 1)
		}
		p.Metadata[metaSettledStatus] = p.Status.String()
	}
	if total.GreaterThanOrEqual(p.Amount) {
		p.Status = enums.PaymentStatusRefunded
	} else {
		p.Status = enums.PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = now
}

// settledBeforeRefund reads the recorded pre-refund status. Refunds are only
// issued against captured funds, so captured is the fallback.
func settledBeforeRefund(p *models.Payment) enums.PaymentStatus {
	if raw, ok := p.Metadata[metaSettledStatus].(string); ok {
		if status, err := enums.ParsePaymentStatus(raw); err == nil && status.IsSettled() {
			return status
		}
	}
	return enums.PaymentStatusCaptured
}
