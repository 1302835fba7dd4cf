package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/config"
)

const (
	FlagHighConversionVelocity = "high_conversion_velocity"
	FlagInstantConversion      = "instant_conversion"
	FlagHighOrderAmount        = "high_order_amount"
	FlagNonDefaultCurrency     = "non_default_currency"
)

// FraudSignals are the observations a conversion is scored on.
type FraudSignals struct {
	// RecentConversions counts the user's purchases in the last hour. Ignored
	// for anonymous clicks.
	RecentConversions int64
	Anonymous         bool
	ClickedAt         time.Time
	ConvertedAt       time.Time
	OrderAmount       decimal.Decimal
	Currency          string
}

// FraudFlags returns the rules a conversion trips under policy, in a stable
// order. An empty result means the conversion is clean.
func FraudFlags(signals FraudSignals, policy config.FraudPolicy) []string {
	flags := []string{}
	if !signals.Anonymous {
		if signals.RecentConversions > int64(policy.MaxConversionsPerHour) {
			flags = append(flags, FlagHighConversionVelocity)
		}
		if signals.ConvertedAt.Sub(signals.ClickedAt) < policy.MinClickToConversion {
			flags = append(flags, FlagInstantConversion)
		}
	}
	if signals.OrderAmount.GreaterThan(decimal.NewFromFloat(policy.HighOrderAmount)) {
		flags = append(flags, FlagHighOrderAmount)
	}
	if !policy.CurrencyAllowed(signals.Currency) {
		flags = append(flags, FlagNonDefaultCurrency+":"+strings.ToUpper(strings.TrimSpace(signals.Currency)))
	}
	return flags
}
