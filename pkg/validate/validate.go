// Package validate is the shared input-validation layer used by every HTTP
// entry point and service in the payment core.
package validate

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
)

var std = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	// decimals validate as floats so numeric tags (gt, lte) apply
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Struct validates tagged struct fields and returns a CodeValidation error
// with per-field details.
func Struct(v any) error {
	if err := std.Struct(v); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// Field describes one named input value.
type Field struct {
	Name  string
	Value string
}

// Required fails with CodeValidation listing every blank field.
func Required(fields ...Field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "missing required fields: "+strings.Join(missing, ", ")).
		WithDetails(map[string]any{"missing": missing})
}

// PositiveAmount fails with CodeValidation unless amount is greater than zero.
func PositiveAmount(name string, amount decimal.Decimal) error {
	if amount.IsPositive() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s must be a positive number", name)).
		WithDetails(map[string]string{name: "must be greater than 0"})
}

// Currency upper-cases code and checks it against ISO 4217.
func Currency(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if err := std.Var(normalized, "required,iso4217"); err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "currency must be an ISO 4217 code").
			WithDetails(map[string]string{"currency": "is invalid"})
	}
	return normalized, nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := map[string]string{}
	fields := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = validationMessage(fieldErr)
		fields = append(fields, fieldErr.Field())
	}
	sort.Strings(fields)
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed: "+strings.Join(fields, ", ")).WithDetails(details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "iso4217":
		return "must be an ISO 4217 code"
	}
	return "is invalid"
}
