package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits a money value may carry.
const MoneyPlaces = 2

// ParseAmount parses a positive money amount such as "15" or "15.25".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is strictly positive and has at most
// MoneyPlaces fractional digits.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, d)
	}
	return validatePlaces(d)
}

// ValidateNonNegative is ValidateAmount but also accepts zero.
func ValidateNonNegative(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidAmount, d)
	}
	return validatePlaces(d)
}

func validatePlaces(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MoneyPlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d, MoneyPlaces)
	}
	return nil
}
