package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits is the currency precision (Peruvian sol, 2 decimals).
const MinorUnits = 2

var maxAmount = decimal.New(1, 12)

// ValidateAmount accepts strictly positive amounts with at most two decimals.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return validatePrecision(amount)
}

// ValidateBalance is ValidateAmount for declared balances, which may be zero.
func ValidateBalance(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidAmount)
	}
	return validatePrecision(amount)
}

func validatePrecision(amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(MinorUnits)) {
		return fmt.Errorf("%w: at most %d decimal places allowed", ErrInvalidAmount, MinorUnits)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: amount too large", ErrInvalidAmount)
	}
	return nil
}
