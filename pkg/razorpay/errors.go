package razorpay

import (
	"errors"

	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
)

// AsAppError maps a client error onto the API error taxonomy. Gateway
// messages pass through for operators; credentials never appear in them.
func AsAppError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway not configured")
	case errors.Is(err, ErrTimeout):
		return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, op+" timed out; outcome unknown").
			WithDetails(map[string]any{"operation": op, "indeterminate": true})
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, apiErr.Description).
			WithDetails(map[string]any{
				"operation":      op,
				"gateway_status": apiErr.StatusCode,
				"gateway_code":   apiErr.Code,
				"gateway_error":  apiErr.Description,
			})
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, op+" failed").
		WithDetails(map[string]any{"operation": op, "gateway_error": err.Error()})
}
