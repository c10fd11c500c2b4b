// Package errors defines the coded errors that handlers turn into HTTP
// envelopes.
package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeMisconfigured Code = "MISCONFIGURED"

	// CodeSignatureInvalid marks a forged or tampered confirmation or webhook.
	CodeSignatureInvalid Code = "SIGNATURE_INVALID"
	CodeGateway          Code = "GATEWAY_ERROR"
	// CodeGatewayTimeout means the upstream outcome is unknown and must be reconciled.
	CodeGatewayTimeout Code = "GATEWAY_TIMEOUT"
)

// Metadata is how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = true
	withDetails = true
)

func meta(status int, public string, retry, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, Retryable: retry, DetailsAllowed: details}
}

var registry = map[Code]Metadata{
	CodeValidation:       meta(http.StatusBadRequest, "validation failed", false, withDetails),
	CodeUnauthorized:     meta(http.StatusUnauthorized, "authentication required", false, false),
	CodeForbidden:        meta(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:         meta(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:         meta(http.StatusConflict, "conflict detected", false, false),
	CodeStateConflict:    meta(http.StatusUnprocessableEntity, "state transition disallowed", false, withDetails),
	CodeIdempotency:      meta(http.StatusConflict, "idempotency key reused", false, withDetails),
	CodeRateLimit:        meta(http.StatusTooManyRequests, "rate limit exceeded", retryable, withDetails),
	CodeInternal:         meta(http.StatusInternalServerError, "internal server error", retryable, false),
	CodeDependency:       meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),
	CodeMisconfigured:    meta(http.StatusInternalServerError, "server misconfigured", false, false),
	CodeSignatureInvalid: meta(http.StatusBadRequest, "payment could not be confirmed, please contact support", false, withDetails),
	CodeGateway:          meta(http.StatusBadGateway, "payment gateway error", retryable, withDetails),
	CodeGatewayTimeout:   meta(http.StatusGatewayTimeout, "payment gateway outcome unknown, reconcile before retrying", false, withDetails),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := registry[code]; ok {
		return m
	}
	return registry[CodeInternal]
}

// Error carries a Code, a caller-safe message and optional public details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether the first coded error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
