package ledger

import (
	"errors"

	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
)

var (
	ErrNotFound            = errors.New("payment not found")
	ErrPaymentNotFound     = errors.New("no payment for gateway payment id")
	ErrRefundNotFound      = errors.New("refund not found")
	ErrDuplicateOrder      = errors.New("payment already exists for order")
	ErrDuplicateRefund     = errors.New("refund already recorded")
	ErrImmutableField      = errors.New("field is immutable after creation")
	ErrInvalidTransition   = errors.New("invalid payment status transition")
	ErrRefundExceedsAmount = errors.New("refunds exceed payment amount")
	ErrInvalidPayment      = errors.New("invalid payment draft")
	ErrInvalidRefund       = errors.New("invalid refund draft")
)

// AsAppError maps ledger sentinels onto the API error taxonomy.
func AsAppError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrRefundNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found")
	case errors.Is(err, ErrDuplicateOrder), errors.Is(err, ErrDuplicateRefund):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrRefundExceedsAmount), errors.Is(err, ErrImmutableField):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, err.Error())
	case errors.Is(err, ErrInvalidPayment), errors.Is(err, ErrInvalidRefund):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger operation failed")
}
