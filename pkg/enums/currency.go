package enums

import (
	"fmt"
	"strings"
)

// Currency is an upper-cased ISO 4217 code.
type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
)

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// NormalizeCurrency trims and upper-cases a raw currency, applying fallback when empty.
func NormalizeCurrency(value string, fallback Currency) Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback
	}
	return Currency(trimmed)
}

// ParseCurrency converts a raw string into a three-letter Currency.
func ParseCurrency(value string) (Currency, error) {
	c := NormalizeCurrency(value, "")
	if len(c) != 3 {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency %q", value)
		}
	}
	return c, nil
}
