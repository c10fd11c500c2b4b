package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/internal/ledger"
	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/money"
	"github.com/angelmondragon/enrollpay-backend/pkg/razorpay"
	"github.com/angelmondragon/enrollpay-backend/pkg/validate"
)

// Gateway is the capture and refund surface of the payment gateway.
type Gateway interface {
	CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*razorpay.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*razorpay.Refund, error)
}

// Service issues one-shot capture and refund calls for existing payments.
type Service interface {
	Capture(ctx context.Context, input CaptureInput) (*CaptureResult, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
}

type ServiceParams struct {
	Ledger  *ledger.Service
	Gateway Gateway
	Logger  *logger.Logger
}

// CaptureInput identifies a payment by its gateway id. A nil Amount captures
// the full payment amount.
type CaptureInput struct {
	PaymentID string
	Amount    *decimal.Decimal
}

type CaptureResult struct {
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	GatewayStatus string          `json:"gatewayStatus"`
	Method        string          `json:"method,omitempty"`
}

// RefundInput identifies a payment by its gateway id. A nil Amount refunds
// whatever has not been refunded yet.
type RefundInput struct {
	PaymentID string
	Amount    *decimal.Decimal
	Reason    string
}

type RefundResult struct {
	RefundID      string          `json:"refundId"`
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
}

type service struct {
	ledger  *ledger.Service
	gateway Gateway
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{ledger: params.Ledger, gateway: params.Gateway, logg: params.Logger}, nil
}

func (s *service) Capture(ctx context.Context, input CaptureInput) (*CaptureResult, error) {
	payment, err := s.lookup(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(s.logg.WithPaymentID(ctx, input.PaymentID), payment.OrderID)

	var result *CaptureResult
	err = s.ledger.WithOrderLock(ctx, payment.OrderID, func(ctx context.Context, store ledger.Store) error {
		current, err := store.FindByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !current.Status.IsSettled() && !current.Status.CanTransitionTo(enums.PaymentStatusCaptured) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot capture a %s payment", current.Status))
		}
		amount := current.Amount
		if input.Amount != nil {
			amount = *input.Amount
			if err := validate.PositiveAmount("amount", amount); err != nil {
				return err
			}
			if amount.GreaterThan(current.Amount) {
				return pkgerrors.New(pkgerrors.CodeValidation, "capture amount exceeds payment amount")
			}
		}
		minor, err := money.ToMinor(amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a positive number")
		}

		remote, err := s.gateway.CapturePayment(ctx, input.PaymentID, minor, current.Currency)
		if err != nil {
			return s.gatewayFailure(ctx, "capture", err)
		}

		captured := enums.PaymentStatusCaptured
		patch := ledger.Patch{Status: &captured}
		if remote.Method != "" {
			patch.Method = &remote.Method
		}
		updated, err := store.Update(ctx, current.ID, patch)
		if err != nil {
			return err
		}
		result = &CaptureResult{
			PaymentID:     input.PaymentID,
			OrderID:       updated.OrderID,
			Amount:        money.FromMinor(minor),
			Currency:      updated.Currency,
			Status:        updated.Status.String(),
			GatewayStatus: remote.Status,
			Method:        remote.Method,
		}
		return nil
	})
	if err != nil {
		return nil, ledger.AsAppError(err)
	}
	s.logg.Info(ctx, "payment.capture.succeeded")
	return result, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	payment, err := s.lookup(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(s.logg.WithPaymentID(ctx, input.PaymentID), payment.OrderID)

	var result *RefundResult
	err = s.ledger.WithOrderLock(ctx, payment.OrderID, func(ctx context.Context, store ledger.Store) error {
		current, err := store.FindByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !current.Status.IsRefundable() && current.Status != enums.PaymentStatusRefunded {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot refund a %s payment", current.Status))
		}
		existing, err := store.ListRefunds(ctx, current.ID)
		if err != nil {
			return err
		}
		remaining := current.Amount.Sub(reserved(existing))
		amount := remaining
		if input.Amount != nil {
			amount = *input.Amount
			if err := validate.PositiveAmount("amount", amount); err != nil {
				return err
			}
		}
		if !remaining.IsPositive() || amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: requested %s, remaining %s", ledger.ErrRefundExceedsAmount, amount.String(), remaining.String())
		}
		minor, err := money.ToMinor(amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a positive number")
		}

		var notes map[string]string
		reason := strings.TrimSpace(input.Reason)
		if reason != "" {
			notes = map[string]string{"reason": reason}
		}
		remote, err := s.gateway.RefundPayment(ctx, input.PaymentID, minor, notes)
		if err != nil {
			return s.gatewayFailure(ctx, "refund", err)
		}

		status, parseErr := enums.ParseRefundStatus(remote.Status)
		if parseErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "gateway_status", remote.Status), "payment.refund.unknown_status")
		}
		recordedAmount := amount
		if remote.Amount > 0 {
			recordedAmount = money.FromMinor(remote.Amount)
		}
		draft := &models.Refund{
			RefundID: remote.ID,
			Amount:   recordedAmount,
			Status:   status,
		}
		if reason != "" {
			draft.Reason = &reason
		}
		refund, updated, err := store.AddRefund(ctx, input.PaymentID, draft)
		if err != nil {
			// the gateway has already moved money; the refund webhook can still record it
			s.logg.Error(s.logg.WithRefundID(ctx, remote.ID), "payment.refund.record_failed", err)
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refund issued but not recorded").
				WithDetails(map[string]any{"refundId": remote.ID})
		}
		result = &RefundResult{
			RefundID:      refund.RefundID,
			PaymentID:     input.PaymentID,
			OrderID:       updated.OrderID,
			Amount:        refund.Amount,
			Status:        refund.Status.String(),
			PaymentStatus: updated.Status.String(),
		}
		return nil
	})
	if err != nil {
		return nil, ledger.AsAppError(err)
	}
	s.logg.Info(s.logg.WithRefundID(ctx, result.RefundID), "payment.refund.succeeded")
	return result, nil
}

func (s *service) lookup(ctx context.Context, paymentID string) (*models.Payment, error) {
	if err := validate.Required(validate.Field{Name: "paymentId", Value: paymentID}); err != nil {
		return nil, err
	}
	payment, err := s.ledger.Store().FindByPaymentID(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrPaymentNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found")
		}
		return nil, ledger.AsAppError(err)
	}
	return payment, nil
}

func (s *service) gatewayFailure(ctx context.Context, op string, err error) error {
	appErr := razorpay.AsAppError(err, op)
	if errors.Is(err, razorpay.ErrTimeout) {
		s.logg.Warn(s.logg.WithField(ctx, "indeterminate", true), "payment."+op+".timeout")
	} else {
		s.logg.Error(ctx, "payment."+op+".gateway_failed", err)
	}
	return appErr
}

func reserved(refunds []models.Refund) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		if r.Status.CountsTowardTotal() {
			total = total.Add(r.Amount)
		}
	}
	return total
}
