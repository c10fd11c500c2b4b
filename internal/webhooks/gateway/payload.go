package gatewaywebhook

import (
	"strings"

	"github.com/angelmondragon/enrollpay-backend/pkg/razorpay"
)

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
	EventOrderPaid         = "order.paid"
	EventRefundProcessed   = "refund.processed"
	EventRefundFailed      = "refund.failed"
)

// envelope is the gateway webhook body. Some deliveries name the event type
// "event", others "type".
type envelope struct {
	ID        string  `json:"id"`
	Event     string  `json:"event"`
	Type      string  `json:"type"`
	CreatedAt int64   `json:"created_at"`
	Payload   payload `json:"payload"`
}

type payload struct {
	Payment *struct {
		Entity paymentEntity `json:"entity"`
	} `json:"payment"`
	Order *struct {
		Entity orderEntity `json:"entity"`
	} `json:"order"`
	Refund *struct {
		Entity refundEntity `json:"entity"`
	} `json:"refund"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Email            string `json:"email"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type refundEntity struct {
	ID        string         `json:"id"`
	PaymentID string         `json:"payment_id"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Status    string         `json:"status"`
	Notes     razorpay.Notes `json:"notes"`
}

func (e envelope) eventType() string {
	if t := strings.TrimSpace(e.Event); t != "" {
		return t
	}
	return strings.TrimSpace(e.Type)
}

func (e envelope) payment() *paymentEntity {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func (e envelope) order() *orderEntity {
	if e.Payload.Order == nil {
		return nil
	}
	return &e.Payload.Order.Entity
}

func (e envelope) refund() *refundEntity {
	if e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}
