package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCashback(t *testing.T) {
	d := decimal.RequireFromString
	cases := []struct {
		name       string
		amount     string
		rate       string
		max        decimal.NullDecimal
		calculated string
		actual     string
		err        error
	}{
		{name: "uncapped", amount: "1000", rate: "5", calculated: "50", actual: "50"},
		{name: "capped", amount: "10000", rate: "5", max: decimal.NewNullDecimal(d("100")), calculated: "500", actual: "100"},
		{name: "under cap", amount: "999", rate: "5", max: decimal.NewNullDecimal(d("100")), calculated: "49.95", actual: "49.95"},
		{name: "half up", amount: "10.10", rate: "5", calculated: "0.51", actual: "0.51"},
		{name: "fractional rate", amount: "1234.56", rate: "3.75", calculated: "46.3", actual: "46.3"},
		{name: "zero rate", amount: "100", rate: "0", calculated: "0", actual: "0"},
		{name: "full rate", amount: "100", rate: "100", calculated: "100", actual: "100"},
		{name: "negative rate", amount: "100", rate: "-1", err: ErrInvalidCashbackRate},
		{name: "rate above 100", amount: "100", rate: "100.01", err: ErrInvalidCashbackRate},
		{name: "zero amount", amount: "0", rate: "5", err: ErrInvalidAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CalculateCashback(d(tc.amount), d(tc.rate), tc.max)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Calculated.Equal(d(tc.calculated)), "calculated %s", got.Calculated)
			assert.True(t, got.Actual.Equal(d(tc.actual)), "actual %s", got.Actual)
			assert.True(t, got.Actual.LessThanOrEqual(got.Calculated))
		})
	}
}

func TestFraudFlags(t *testing.T) {
	policy := config.DefaultFraudPolicy()
	clicked := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clean := FraudSignals{
		RecentConversions: 5,
		ClickedAt:         clicked,
		ConvertedAt:       clicked.Add(time.Minute),
		OrderAmount:       decimal.NewFromInt(50000),
		Currency:          "INR",
	}

	assert.Empty(t, FraudFlags(clean, policy))

	busy := clean
	busy.RecentConversions = 6
	assert.Equal(t, []string{FlagHighConversionVelocity}, FraudFlags(busy, policy))

	instant := clean
	instant.ConvertedAt = clicked.Add(29 * time.Second)
	assert.Equal(t, []string{FlagInstantConversion}, FraudFlags(instant, policy))

	anonymous := instant
	anonymous.Anonymous = true
	anonymous.RecentConversions = 100
	assert.Empty(t, FraudFlags(anonymous, policy))

	big := clean
	big.OrderAmount = decimal.RequireFromString("50000.01")
	big.Currency = "usd"
	assert.Equal(t, []string{FlagHighOrderAmount, "non_default_currency:USD"}, FraudFlags(big, policy))
}
