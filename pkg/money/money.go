package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places carried by gateway minor units.
const MinorUnitScale = 2

var hundred = decimal.NewFromInt(100)

// ToMinor converts a major-unit amount into gateway minor units (paise, cents),
// rounding half away from zero at two decimal places.
func ToMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be greater than 0, got %s", amount.String())
	}
	minor := amount.Round(MinorUnitScale).Mul(hundred)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s does not convert to whole minor units", amount.String())
	}
	if minor.GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("amount %s exceeds supported range", amount.String())
	}
	return minor.IntPart(), nil
}

// FromMinor converts gateway minor units back into a major-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitScale)
}

// Sum adds the provided amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
