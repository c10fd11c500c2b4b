// Package gatewaywebhook applies signed payment gateway events to the ledger.
package gatewaywebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/enrollpay-backend/internal/ledger"
	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/metrics"
	"github.com/angelmondragon/enrollpay-backend/pkg/money"
	"github.com/angelmondragon/enrollpay-backend/pkg/signature"
)

const (
	metricSource = "webhook"

	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultIgnored   = "ignored"
	resultInFlight  = "in_flight"
)

// Outcome describes what a delivery did.
type Outcome struct {
	EventID    string `json:"eventId"`
	Event      string `json:"event"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Ignored    bool   `json:"ignored,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
	Status     string `json:"status,omitempty"`
}

type ServiceParams struct {
	Ledger        *ledger.Service
	Guard         EventGuard
	WebhookSecret string
	Logger        *logger.Logger
	Metrics       *metrics.PaymentMetrics
}

type Service struct {
	ledger  *ledger.Service
	guard   EventGuard
	secret  []byte
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		ledger:  params.Ledger,
		guard:   params.Guard,
		secret:  []byte(strings.TrimSpace(params.WebhookSecret)),
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// Handle verifies and applies one delivery. body must be the raw request bytes.
func (s *Service) Handle(ctx context.Context, body []byte, sig string) (*Outcome, error) {
	return s.HandleWithEventID(ctx, body, sig, "")
}

// HandleWithEventID is Handle with an event id taken from a delivery header,
// used when the body carries none.
func (s *Service) HandleWithEventID(ctx context.Context, body []byte, sig, headerEventID string) (*Outcome, error) {
	if len(s.secret) == 0 {
		err := pkgerrors.New(pkgerrors.CodeMisconfigured, "webhook secret is not configured")
		s.logg.Error(ctx, "webhook.misconfigured", err)
		return nil, err
	}
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing webhook signature")
	}
	if !signature.VerifyHex(s.secret, body, sig) {
		s.metrics.IncSignatureFailure(metricSource)
		s.logg.Warn(s.logg.WithField(ctx, "security_event", true), "webhook.signature_invalid")
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature mismatch")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	eventType := env.eventType()
	eventID := strings.TrimSpace(env.ID)
	if eventID == "" {
		eventID = strings.TrimSpace(headerEventID)
	}
	if eventType == "" || eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event id and type are required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": eventID, "event_type": eventType})
	outcome := &Outcome{EventID: eventID, Event: eventType}

	state, err := s.guard.Begin(ctx, eventID)
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, metrics.ResultFailure)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook guard unavailable")
	}
	switch state {
	case StateProcessed:
		s.metrics.IncWebhookEvent(eventType, resultDuplicate)
		s.logg.Info(ctx, "webhook.duplicate")
		outcome.Idempotent = true
		return outcome, nil
	case StateInFlight:
		s.metrics.IncWebhookEvent(eventType, resultInFlight)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "webhook event is already being processed")
	}

	if err := s.apply(ctx, env, eventType, outcome); err != nil {
		if abortErr := s.guard.Abort(ctx, eventID); abortErr != nil {
			s.logg.Error(ctx, "webhook.abort_failed", abortErr)
		}
		s.metrics.IncWebhookEvent(eventType, metrics.ResultFailure)
		s.logg.Error(ctx, "webhook.apply_failed", err)
		return nil, ledger.AsAppError(err)
	}

	if err := s.guard.Complete(ctx, eventID); err != nil {
		// transitions are idempotent, a redelivery re-applies as a no-op
		s.logg.Error(ctx, "webhook.complete_failed", err)
	}
	result := resultApplied
	if outcome.Ignored {
		result = resultIgnored
	}
	s.metrics.IncWebhookEvent(eventType, result)
	s.logg.Info(s.logg.WithField(ctx, "result", result), "webhook.processed")
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, env envelope, eventType string, outcome *Outcome) error {
	switch eventType {
	case EventPaymentCaptured:
		return s.settle(ctx, env, enums.PaymentStatusCaptured, outcome)
	case EventOrderPaid:
		return s.settle(ctx, env, enums.PaymentStatusPaid, outcome)
	case EventPaymentAuthorized:
		return s.fromCreated(ctx, env, enums.PaymentStatusAuthorized, outcome)
	case EventPaymentFailed:
		return s.fromCreated(ctx, env, enums.PaymentStatusFailed, outcome)
	case EventRefundProcessed:
		return s.recordRefund(ctx, env, enums.RefundStatusProcessed, outcome)
	case EventRefundFailed:
		return s.recordRefund(ctx, env, enums.RefundStatusFailed, outcome)
	default:
		outcome.Ignored = true
		s.logg.Debug(ctx, "webhook.ignored")
		return nil
	}
}

// settle moves the order's Payment into the settled class, recreating it from
// the event when the ledger has no record.
func (s *Service) settle(ctx context.Context, env envelope, next enums.PaymentStatus, outcome *Outcome) error {
	pay := env.payment()
	ord := env.order()
	orderID := ""
	switch {
	case pay != nil && pay.OrderID != "":
		orderID = pay.OrderID
	case ord != nil:
		orderID = ord.ID
	}
	if orderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook payload has no order id")
	}
	ctx = s.logg.WithOrderID(ctx, orderID)

	return s.ledger.WithOrderLock(ctx, orderID, func(ctx context.Context, store ledger.Store) error {
		payment, err := store.FindByOrderID(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			payment, err = s.reconcile(ctx, store, orderID, pay, ord)
		}
		if err != nil {
			return err
		}

		patch := ledger.Patch{}
		if pay != nil {
			patch.PaymentID = optional(pay.ID)
			patch.Method = optional(pay.Method)
			if pay.Amount > 0 && money.FromMinor(pay.Amount).Cmp(payment.Amount) != 0 {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"ledger_amount":  payment.Amount.String(),
					"gateway_amount": money.FromMinor(pay.Amount).String(),
				}), "webhook.amount_mismatch")
			}
		}
		if payment.Status.IsSettled() || payment.Status.CanTransitionTo(next) {
			patch.Status = &next
		}
		updated, err := store.Update(ctx, payment.ID, patch)
		if err != nil {
			return err
		}
		outcome.OrderID = updated.OrderID
		outcome.Status = updated.Status.String()
		return nil
	})
}

// fromCreated applies authorized/failed, which only ever move a fresh Payment.
func (s *Service) fromCreated(ctx context.Context, env envelope, next enums.PaymentStatus, outcome *Outcome) error {
	pay := env.payment()
	if pay == nil || pay.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook payload has no payment entity")
	}
	ctx = s.logg.WithOrderID(ctx, pay.OrderID)

	return s.ledger.WithOrderLock(ctx, pay.OrderID, func(ctx context.Context, store ledger.Store) error {
		payment, err := store.FindByOrderID(ctx, pay.OrderID)
		if errors.Is(err, ledger.ErrNotFound) {
			outcome.Ignored = true
			s.logg.Warn(ctx, "webhook.unknown_order")
			return nil
		}
		if err != nil {
			return err
		}
		outcome.OrderID = payment.OrderID
		if payment.Status != enums.PaymentStatusCreated {
			outcome.Status = payment.Status.String()
			return nil
		}
		patch := ledger.Patch{
			Status:    &next,
			PaymentID: optional(pay.ID),
			Method:    optional(pay.Method),
		}
		if next == enums.PaymentStatusFailed && pay.ErrorCode != "" {
			patch.Metadata = map[string]any{
				"failureCode":        pay.ErrorCode,
				"failureDescription": pay.ErrorDescription,
			}
		}
		updated, err := store.Update(ctx, payment.ID, patch)
		if err != nil {
			return err
		}
		outcome.Status = updated.Status.String()
		return nil
	})
}

// recordRefund inserts or updates the Refund row keyed by the gateway refund id.
func (s *Service) recordRefund(ctx context.Context, env envelope, status enums.RefundStatus, outcome *Outcome) error {
	ref := env.refund()
	if ref == nil || ref.ID == "" || ref.PaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook payload has no refund entity")
	}
	store := s.ledger.Store()
	payment, err := store.FindByPaymentID(ctx, ref.PaymentID)
	if errors.Is(err, ledger.ErrPaymentNotFound) || errors.Is(err, ledger.ErrNotFound) {
		outcome.Ignored = true
		s.logg.Warn(s.logg.WithPaymentID(ctx, ref.PaymentID), "webhook.refund_unknown_payment")
		return nil
	}
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderID(ctx, payment.OrderID)

	return s.ledger.WithOrderLock(ctx, payment.OrderID, func(ctx context.Context, store ledger.Store) error {
		var updated *models.Payment
		if _, err := store.FindRefund(ctx, ref.ID); err == nil {
			_, updated, err = store.UpdateRefund(ctx, ref.ID, status)
			if err != nil {
				return err
			}
		} else if errors.Is(err, ledger.ErrRefundNotFound) {
			draft := &models.Refund{
				RefundID: ref.ID,
				Amount:   money.FromMinor(ref.Amount),
				Status:   status,
				Reason:   optional(ref.Notes["reason"]),
			}
			_, updated, err = store.AddRefund(ctx, ref.PaymentID, draft)
			if err != nil {
				return fmt.Errorf("record refund %s: %w", ref.ID, err)
			}
		} else {
			return err
		}
		outcome.OrderID = updated.OrderID
		outcome.Status = updated.Status.String()
		return nil
	})
}

func (s *Service) reconcile(ctx context.Context, store ledger.Store, orderID string, pay *paymentEntity, ord *orderEntity) (*models.Payment, error) {
	var amount int64
	currency := ""
	switch {
	case pay != nil && pay.Amount > 0:
		amount, currency = pay.Amount, pay.Currency
	case ord != nil && ord.Amount > 0:
		amount, currency = ord.Amount, ord.Currency
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload has no amount for unknown order")
	}
	draft := &models.Payment{
		OrderID:    orderID,
		Amount:     money.FromMinor(amount),
		Currency:   currency,
		Status:     enums.PaymentStatusCreated,
		Reconciled: true,
		Metadata:   map[string]any{"reconciledFrom": metricSource},
	}
	if ord != nil && ord.Receipt != "" {
		receipt := ord.Receipt
		draft.ReceiptID = &receipt
	}
	if pay != nil && pay.Email != "" {
		draft.UserEmail = optional(pay.Email)
	}
	payment, err := store.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.metrics.IncReconciliation(metricSource)
	s.logg.Warn(s.logg.WithField(ctx, "reconciled", true), "webhook.reconciled")
	return payment, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
