package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Cashback is the amount owed for one order.
type Cashback struct {
	Calculated decimal.Decimal
	Actual     decimal.Decimal
}

// CalculateCashback applies a percentage rate to amount, rounding half up to
// two decimals, and caps the result when maxCashback is set.
func CalculateCashback(amount, rate decimal.Decimal, maxCashback decimal.NullDecimal) (Cashback, error) {
	if !amount.IsPositive() {
		return Cashback{}, ErrInvalidAmount
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return Cashback{}, ErrInvalidCashbackRate
	}

	calculated := amount.Mul(rate).Div(hundred).Round(2)
	actual := calculated
	if maxCashback.Valid && !maxCashback.Decimal.IsNegative() && calculated.GreaterThan(maxCashback.Decimal) {
		actual = maxCashback.Decimal.Round(2)
	}
	return Cashback{Calculated: calculated, Actual: actual}, nil
}
