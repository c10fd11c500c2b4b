package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/internal/ledger"
	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/metrics"
	"github.com/angelmondragon/enrollpay-backend/pkg/money"
	"github.com/angelmondragon/enrollpay-backend/pkg/razorpay"
	"github.com/angelmondragon/enrollpay-backend/pkg/validate"
)

const (
	receiptPrefix = "rcpt_"

	resultCreated    = "created"
	resultIdempotent = "idempotent"
)

// Gateway is the order-creation surface of the payment gateway.
type Gateway interface {
	Configured() bool
	KeyID() string
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.Order, error)
}

// Service creates gateway orders exactly once per receipt or idempotency key.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderResult, error)
}

type ServiceParams struct {
	Ledger          *ledger.Service
	Gateway         Gateway
	Logger          *logger.Logger
	Metrics         *metrics.PaymentMetrics
	DefaultCurrency string
}

type service struct {
	ledger          *ledger.Service
	gateway         Gateway
	logg            *logger.Logger
	metrics         *metrics.PaymentMetrics
	defaultCurrency string
}

// CreateOrderInput describes one purchase attempt. User fields are optional:
// orders may be created before sign-in completes.
type CreateOrderInput struct {
	Amount         decimal.Decimal
	Currency       string
	ReceiptID      string
	IdempotencyKey string
	UserID         string
	UserEmail      string
	CourseID       string
	Cohort         string
	Metadata       map[string]any
}

type OrderResult struct {
	OrderID    string          `json:"orderId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Receipt    string          `json:"receipt"`
	Status     string          `json:"status"`
	PaymentID  uuid.UUID       `json:"paymentId"`
	KeyID      string          `json:"keyId"`
	Idempotent bool            `json:"idempotent,omitempty"`
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
	currency := strings.ToUpper(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = enums.CurrencyINR.String()
	}
	return &service{
		ledger:          params.Ledger,
		gateway:         params.Gateway,
		logg:            params.Logger,
		metrics:         params.Metrics,
		defaultCurrency: currency,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderResult, error) {
	if err := validate.PositiveAmount("amount", input.Amount); err != nil {
		s.metrics.IncOrder(metrics.ResultFailure)
		return nil, err
	}
	rawCurrency := input.Currency
	if strings.TrimSpace(rawCurrency) == "" {
		rawCurrency = s.defaultCurrency
	}
	currency, err := validate.Currency(rawCurrency)
	if err != nil {
		s.metrics.IncOrder(metrics.ResultFailure)
		return nil, err
	}
	if !s.gateway.Configured() {
		s.metrics.IncOrder(metrics.ResultFailure)
		return nil, razorpay.AsAppError(razorpay.ErrNotConfigured, "create_order")
	}

	receiptID := strings.TrimSpace(input.ReceiptID)
	idemKey := strings.TrimSpace(input.IdempotencyKey)

	var result *OrderResult
	err = s.ledger.WithCreationLock(ctx, receiptID, idemKey, func(ctx context.Context, store ledger.Store) error {
		if receiptID != "" || idemKey != "" {
			existing, err := store.FindByReceiptOrIdempotencyKey(ctx, receiptID, idemKey)
			if err == nil {
				result = s.resultFor(existing)
				result.Idempotent = true
				if !existing.Amount.Equal(input.Amount.Round(money.MinorUnitScale)) {
					s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
						"order_id":         existing.OrderID,
						"requested_amount": input.Amount.String(),
						"existing_amount":  existing.Amount.String(),
					}), "payment.order.idempotent_amount_mismatch")
				}
				return nil
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return err
			}
		}

		receipt := receiptID
		if receipt == "" {
			receipt = newReceiptID()
		}
		minor, err := money.ToMinor(input.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a positive number")
		}

		order, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderRequest{
			Amount:   minor,
			Currency: currency,
			Receipt:  receipt,
			Notes:    notesFor(input),
		})
		if err != nil {
			return razorpay.AsAppError(err, "create_order")
		}

		draft := &models.Payment{
			OrderID:   order.ID,
			ReceiptID: &receipt,
			Amount:    money.FromMinor(minor),
			Currency:  currency,
			Status:    enums.PaymentStatusCreated,
			UserID:    optional(input.UserID),
			UserEmail: optional(input.UserEmail),
			CourseID:  optional(input.CourseID),
			Cohort:    optional(input.Cohort),
			Metadata:  input.Metadata,
		}
		if idemKey != "" {
			draft.IdempotencyKey = &idemKey
		}
		payment, err := store.Create(ctx, draft)
		if err != nil {
			return err
		}
		result = s.resultFor(payment)
		return nil
	})
	if err != nil {
		s.metrics.IncOrder(metrics.ResultFailure)
		return nil, ledger.AsAppError(err)
	}

	outcome := resultCreated
	if result.Idempotent {
		outcome = resultIdempotent
	}
	s.metrics.IncOrder(outcome)
	ctx = s.logg.WithOrderID(ctx, result.OrderID)
	s.logg.Info(s.logg.WithField(ctx, "outcome", outcome), "payment.order.created")
	return result, nil
}

func (s *service) resultFor(p *models.Payment) *OrderResult {
	receipt := ""
	if p.ReceiptID != nil {
		receipt = *p.ReceiptID
	}
	return &OrderResult{
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Receipt:   receipt,
		Status:    p.Status.String(),
		PaymentID: p.ID,
		KeyID:     s.gateway.KeyID(),
	}
}

func newReceiptID() string {
	return receiptPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func notesFor(input CreateOrderInput) map[string]string {
	notes := map[string]string{}
	if input.CourseID != "" {
		notes["courseId"] = input.CourseID
	}
	if input.Cohort != "" {
		notes["cohort"] = input.Cohort
	}
	if input.UserID != "" {
		notes["userId"] = input.UserID
	}
	if len(notes) == 0 {
		return nil
	}
	return notes
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
