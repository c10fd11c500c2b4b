package verification

import (
	"context"
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
	"github.com/angelmondragon/enrollpay-backend/pkg/razorpay"
	"github.com/angelmondragon/enrollpay-backend/pkg/signature"
	"github.com/angelmondragon/enrollpay-backend/pkg/validate"
)

const (
	metricSource = "verification"

	resultVerified         = "verified"
	resultSignatureInvalid = "signature_invalid"
)

// PaymentFetcher reads a payment from the gateway. It backs the reconciliation
// branch, where the ledger has no record of the order being confirmed.
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error)
}

// Service confirms client-submitted checkout results.
type Service interface {
	Verify(ctx context.Context, input Input) (*Result, error)
}

type ServiceParams struct {
	Ledger    *ledger.Service
	Gateway   PaymentFetcher
	KeySecret string
	Logger    *logger.Logger
	Metrics   *metrics.PaymentMetrics
}

type Input struct {
	OrderID   string
	PaymentID string
	Signature string
	UserID    string
}

type Result struct {
	Verified  bool   `json:"verified"`
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
}

type service struct {
	ledger    *ledger.Service
	gateway   PaymentFetcher
	keySecret []byte
	logg      *logger.Logger
	metrics   *metrics.PaymentMetrics
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
	return &service{
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		keySecret: []byte(strings.TrimSpace(params.KeySecret)),
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

func (s *service) Verify(ctx context.Context, input Input) (*Result, error) {
	input.OrderID = strings.TrimSpace(input.OrderID)
	input.PaymentID = strings.TrimSpace(input.PaymentID)
	input.Signature = strings.TrimSpace(input.Signature)
	if err := validate.Required(
		validate.Field{Name: "orderId", Value: input.OrderID},
		validate.Field{Name: "paymentId", Value: input.PaymentID},
		validate.Field{Name: "signature", Value: input.Signature},
	); err != nil {
		s.metrics.IncVerification(metrics.ResultFailure)
		return nil, err
	}
	if len(s.keySecret) == 0 {
		s.metrics.IncVerification(metrics.ResultFailure)
		err := pkgerrors.New(pkgerrors.CodeMisconfigured, "gateway key secret is not configured")
		s.logg.Error(ctx, "payment.verify.misconfigured", err)
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, input.OrderID)
	ctx = s.logg.WithPaymentID(ctx, input.PaymentID)
	valid := signature.VerifyHex(s.keySecret, signature.PaymentMessage(input.OrderID, input.PaymentID), input.Signature)

	lockOrderID := s.lockTarget(ctx, input)
	var result *Result
	err := s.ledger.WithOrderLock(ctx, lockOrderID, func(ctx context.Context, store ledger.Store) error {
		payment, err := s.locate(ctx, store, input, valid)
		if err != nil {
			return err
		}
		if payment.OrderID != lockOrderID {
			// the ledger changed between picking the lock and taking it
			return pkgerrors.New(pkgerrors.CodeConflict, "payment changed during verification, retry").
				WithDetails(map[string]any{"orderId": input.OrderID, "paymentId": input.PaymentID})
		}
		if !valid {
			return s.rejectSignature(ctx, store, payment)
		}

		patch := ledger.Patch{PaymentID: &input.PaymentID}
		if payment.Status.CanTransitionTo(enums.PaymentStatusPaid) {
			paid := enums.PaymentStatusPaid
			patch.Status = &paid
		}
		if input.UserID != "" && payment.UserID == nil {
			patch.UserID = &input.UserID
		}
		updated, err := store.Update(ctx, payment.ID, patch)
		if err != nil {
			return err
		}
		result = &Result{
			Verified:  true,
			PaymentID: input.PaymentID,
			OrderID:   updated.OrderID,
			Status:    updated.Status.String(),
		}
		return nil
	})
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid) {
			s.metrics.IncVerification(metrics.ResultFailure)
		}
		return nil, ledger.AsAppError(err)
	}

	s.metrics.IncVerification(resultVerified)
	s.logg.Info(s.logg.WithField(ctx, "status", result.Status), "payment.verify.confirmed")
	return result, nil
}

// lockTarget picks the order whose lock guards this confirmation. A payment
// already recorded under another order id is locked under that order, the same
// key its webhooks take.
func (s *service) lockTarget(ctx context.Context, input Input) string {
	store := s.ledger.Store()
	if _, err := store.FindByOrderID(ctx, input.OrderID); err == nil {
		return input.OrderID
	}
	if payment, err := store.FindByPaymentID(ctx, input.PaymentID); err == nil {
		return payment.OrderID
	}
	return input.OrderID
}

// locate finds the Payment by order id, then by gateway payment id, and as a
// last resort rebuilds it from the gateway.
func (s *service) locate(ctx context.Context, store ledger.Store, input Input, signatureValid bool) (*models.Payment, error) {
	payment, err := store.FindByOrderID(ctx, input.OrderID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	payment, err = store.FindByPaymentID(ctx, input.PaymentID)
	if err == nil {
		s.logg.Warn(s.logg.WithField(ctx, "ledger_order_id", payment.OrderID), "payment.verify.located_by_payment_id")
		return payment, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) && !errors.Is(err, ledger.ErrPaymentNotFound) {
		return nil, err
	}
	if !signatureValid {
		// nothing to mark failed; the forged confirmation never reaches the gateway
		s.recordSignatureFailure(ctx)
		return nil, signatureInvalidError()
	}
	return s.reconcile(ctx, store, input)
}

// reconcile recreates a Payment the ledger has lost, using the gateway's view of
// the payment for amount and currency.
func (s *service) reconcile(ctx context.Context, store ledger.Store, input Input) (*models.Payment, error) {
	remote, err := s.gateway.FetchPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, razorpay.AsAppError(err, "fetch_payment")
	}
	if remote.OrderID != "" && remote.OrderID != input.OrderID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment does not belong to order").
			WithDetails(map[string]any{"orderId": input.OrderID, "paymentId": input.PaymentID})
	}
	if remote.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway returned a payment without an amount")
	}

	draft := &models.Payment{
		OrderID:    input.OrderID,
		Amount:     money.FromMinor(remote.Amount),
		Currency:   remote.Currency,
		Status:     enums.PaymentStatusCreated,
		Reconciled: true,
		Metadata:   map[string]any{"reconciledFrom": metricSource},
	}
	if remote.Method != "" {
		method := remote.Method
		draft.Method = &method
	}
	payment, err := store.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.metrics.IncReconciliation(metricSource)
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"reconciled": true,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
	}), "payment.verify.reconciled")
	return payment, nil
}

// rejectSignature records the forged confirmation on the Payment. Settled
// payments are never moved out of their state.
func (s *service) rejectSignature(ctx context.Context, store ledger.Store, payment *models.Payment) error {
	s.recordSignatureFailure(ctx)
	if payment.Status.CanTransitionTo(enums.PaymentStatusFailed) {
		failed := enums.PaymentStatusFailed
		if _, err := store.Update(ctx, payment.ID, ledger.Patch{
			Status:   &failed,
			Metadata: map[string]any{"failureReason": resultSignatureInvalid},
		}); err != nil {
			s.logg.Error(ctx, "payment.verify.mark_failed", err)
		}
	}
	return signatureInvalidError()
}

func (s *service) recordSignatureFailure(ctx context.Context) {
	s.metrics.IncSignatureFailure(metricSource)
	s.metrics.IncVerification(resultSignatureInvalid)
	s.logg.Warn(s.logg.WithField(ctx, "security_event", true), "payment.verify.signature_invalid")
}

func signatureInvalidError() error {
	return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "payment signature mismatch").
		WithDetails(map[string]any{"verified": false})
}
