package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
)

// Refund is a monetary reversal recorded against a Payment. PaymentID holds the
// gateway payment id; PaymentRecordID links the internal Payment row.
type Refund struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	RefundID        string             `gorm:"column:refund_id;not null;uniqueIndex"`
	PaymentRecordID uuid.UUID          `gorm:"column:payment_record_id;type:uuid;not null;index"`
	PaymentID       string             `gorm:"column:payment_id;not null;index"`
	Amount          decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Status          enums.RefundStatus `gorm:"column:status;not null;default:'pending'"`
	Reason          *string            `gorm:"column:reason"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Refund) TableName() string { return "refunds" }

// Clone returns a copy safe to hand out of a shared store.
func (r *Refund) Clone() *Refund {
	if r == nil {
		return nil
	}
	out := *r
	out.Reason = cloneString(r.Reason)
	return &out
}
