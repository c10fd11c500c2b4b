package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/api/middleware"
	"github.com/angelmondragon/enrollpay-backend/api/responses"
	"github.com/angelmondragon/enrollpay-backend/api/validators"
	"github.com/angelmondragon/enrollpay-backend/internal/ledger"
	"github.com/angelmondragon/enrollpay-backend/internal/orders"
	"github.com/angelmondragon/enrollpay-backend/internal/refunds"
	"github.com/angelmondragon/enrollpay-backend/internal/verification"
	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

// PaymentReader is the read side of the ledger used by the lookup endpoint.
type PaymentReader interface {
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	ListRefunds(ctx context.Context, paymentRecordID uuid.UUID) ([]models.Refund, error)
}

type createOrderRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	ReceiptID      string          `json:"receiptId,omitempty" validate:"omitempty,max=40"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
	CourseID       string          `json:"courseId,omitempty" validate:"omitempty,max=128"`
	Cohort         string          `json:"cohort,omitempty" validate:"omitempty,max=128"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

type verifyRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

type captureRequest struct {
	PaymentID string           `json:"paymentId" validate:"required"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

type refundRequest struct {
	PaymentID string           `json:"paymentId" validate:"required"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Reason    string           `json:"reason,omitempty" validate:"omitempty,max=255"`
}

// CreateOrder opens a gateway order. The caller's identity is attached when a
// session is present; anonymous checkouts are allowed.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "order service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := orders.CreateOrderInput{
			Amount:         req.Amount,
			Currency:       req.Currency,
			ReceiptID:      strings.TrimSpace(req.ReceiptID),
			IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
			CourseID:       firstNonEmpty(req.CourseID, metadataString(req.Metadata, "courseId")),
			Cohort:         firstNonEmpty(req.Cohort, metadataString(req.Metadata, "cohort")),
			Metadata:       req.Metadata,
		}
		if claims := middleware.ClaimsFromContext(ctx); claims != nil {
			input.UserID = claims.UID
			input.UserEmail = claims.Email
		}

		result, err := svc.CreateOrder(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Verify confirms a checkout result posted back by the client.
func Verify(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "verification service unavailable"))
			return
		}

		var req verifyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Verify(ctx, verification.Input{
			OrderID:   strings.TrimSpace(req.OrderID),
			PaymentID: strings.TrimSpace(req.PaymentID),
			Signature: strings.TrimSpace(req.Signature),
			UserID:    middleware.UserIDFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Capture(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "capture service unavailable"))
			return
		}

		var req captureRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Capture(ctx, refunds.CaptureInput{
			PaymentID: strings.TrimSpace(req.PaymentID),
			Amount:    req.Amount,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Refund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "refund service unavailable"))
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Refund(ctx, refunds.RefundInput{
			PaymentID: strings.TrimSpace(req.PaymentID),
			Amount:    req.Amount,
			Reason:    validators.SanitizeText(req.Reason, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Lookup returns a payment and its refunds by gateway order id. Payments owned
// by another user are reported as not found unless the caller is an operator.
func Lookup(reader PaymentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "payment store unavailable"))
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if orderID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "orderId is required"))
			return
		}

		payment, err := reader.FindByOrderID(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, ledger.AsAppError(err))
			return
		}
		operator := middleware.RoleFromContext(ctx) == identity.RoleOperator
		if owner := payment.UserID; owner != nil && *owner != middleware.UserIDFromContext(ctx) && !operator {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}

		refundRows, err := reader.ListRefunds(ctx, payment.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, ledger.AsAppError(err))
			return
		}
		responses.WriteSuccess(w, newPaymentView(payment, refundRows))
	}
}

// firstNonEmpty returns the first value that survives sanitizing, capped at
// the column width of course_id and cohort.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if cleaned := validators.SanitizeText(v, 128); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
