package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
)

// Payment is the transactional record of one enrollment purchase attempt.
type Payment struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        string              `gorm:"column:order_id;not null;uniqueIndex"`
	PaymentID      *string             `gorm:"column:payment_id;index"`
	ReceiptID      *string             `gorm:"column:receipt_id;uniqueIndex"`
	IdempotencyKey *string             `gorm:"column:idempotency_key;uniqueIndex"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string              `gorm:"column:currency;not null;default:'INR'"`
	UserID         *string             `gorm:"column:user_id;index"`
	UserEmail      *string             `gorm:"column:user_email"`
	CourseID       *string             `gorm:"column:course_id"`
	Cohort         *string             `gorm:"column:cohort"`
	Method         *string             `gorm:"column:method"`
	Status         enums.PaymentStatus `gorm:"column:status;not null;default:'created'"`
	Metadata       map[string]any      `gorm:"column:metadata;type:jsonb;serializer:json"`
	Reconciled     bool                `gorm:"column:reconciled;not null;default:false"`
	PaidAt         *time.Time          `gorm:"column:paid_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

// GatewayPaymentID returns the gateway payment id or an empty string.
func (p *Payment) GatewayPaymentID() string {
	if p == nil || p.PaymentID == nil {
		return ""
	}
	return *p.PaymentID
}

// Clone returns a deep copy safe to hand out of a shared store.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	out := *p
	out.PaymentID = cloneString(p.PaymentID)
	out.ReceiptID = cloneString(p.ReceiptID)
	out.IdempotencyKey = cloneString(p.IdempotencyKey)
	out.UserID = cloneString(p.UserID)
	out.UserEmail = cloneString(p.UserEmail)
	out.CourseID = cloneString(p.CourseID)
	out.Cohort = cloneString(p.Cohort)
	out.Method = cloneString(p.Method)
	if p.PaidAt != nil {
		paid := *p.PaidAt
		out.PaidAt = &paid
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
