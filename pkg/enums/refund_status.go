package enums

import (
	"fmt"
	"strings"
)

// RefundStatus tracks a single refund issued against a payment.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusProcessed,
	RefundStatusFailed,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// CountsTowardTotal reports whether the refund amount is reserved against the payment.
func (r RefundStatus) CountsTowardTotal() bool {
	return r != RefundStatusFailed
}

// ParseRefundStatus converts raw input into a RefundStatus. Unknown gateway
// values collapse to pending so the amount stays reserved.
func ParseRefundStatus(value string) (RefundStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validRefundStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return RefundStatusPending, fmt.Errorf("invalid refund status %q", value)
}
