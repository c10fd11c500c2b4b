package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
)

type refundView struct {
	RefundID  string          `json:"refundId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reason    *string         `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type paymentView struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    string          `json:"orderId"`
	PaymentID  *string         `json:"paymentId,omitempty"`
	ReceiptID  *string         `json:"receiptId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	Method     *string         `json:"method,omitempty"`
	CourseID   *string         `json:"courseId,omitempty"`
	Cohort     *string         `json:"cohort,omitempty"`
	Reconciled bool            `json:"reconciled"`
	PaidAt     *time.Time      `json:"paidAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	Refunds    []refundView    `json:"refunds"`
}

func newPaymentView(p *models.Payment, refunds []models.Refund) paymentView {
	view := paymentView{
		ID:         p.ID,
		OrderID:    p.OrderID,
		PaymentID:  p.PaymentID,
		ReceiptID:  p.ReceiptID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     string(p.Status),
		Method:     p.Method,
		CourseID:   p.CourseID,
		Cohort:     p.Cohort,
		Reconciled: p.Reconciled,
		PaidAt:     p.PaidAt,
		CreatedAt:  p.CreatedAt,
		Refunds:    make([]refundView, 0, len(refunds)),
	}
	for _, r := range refunds {
		view.Refunds = append(view.Refunds, refundView{
			RefundID:  r.RefundID,
			Amount:    r.Amount,
			Status:    string(r.Status),
			Reason:    r.Reason,
			CreatedAt: r.CreatedAt,
		})
	}
	return view
}
