package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/cashback/internal/analytics/domain"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeBrands struct {
	branddomain.Service
	brands map[string]branddomain.Brand
}

func (f *fakeBrands) Get(_ context.Context, brandID string) (branddomain.Brand, error) {
	b, ok := f.brands[brandID]
	if !ok {
		return branddomain.Brand{}, branddomain.ErrBrandNotFound
	}
	return b, nil
}

var testNow = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

func insertClick(t *testing.T, db *gorm.DB, id int64, brandID string, userID any, status string, at time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO clicks (id, click_id, user_id, brand_id, cashback_rate, status, clicked_at, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 5, ?, ?, ?, ?, ?)`,
		id, "clk_"+string(rune('a'+id)), userID, brandID, status, at, at.Add(30*24*time.Hour), at, at,
	).Error
	require.NoError(t, err)
}

func insertPurchase(t *testing.T, db *gorm.DB, id int64, brandID, status, amount, cashback string, at time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO purchases (id, purchase_id, click_id, brand_id, external_order_id, order_amount, cashback_rate,
			cashback_amount, actual_cashback, status, verification_ends_at, purchased_at, created_at, updated_at)
		 VALUES (?, ?, 'clk_x', ?, ?, ?, 5, ?, ?, ?, ?, ?, ?, ?)`,
		id, "pur_"+string(rune('a'+id)), brandID, "order-"+string(rune('a'+id)), amount, cashback, cashback, status,
		at.Add(7*24*time.Hour), at, at, at,
	).Error
	require.NoError(t, err)
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	brands := &fakeBrands{brands: map[string]branddomain.Brand{
		"brand_a": {
			BrandID:           "brand_a",
			TotalClicks:       40,
			TotalPurchases:    9,
			TotalCashbackPaid: decimal.RequireFromString("321.50"),
		},
	}}
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Brands: brands,
		Clock:  clock.NewFakeClock(testNow),
	}).(*Service)
	return svc, db
}

func TestBrandAnalytics(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	day := func(d int) time.Time { return testNow.AddDate(0, 0, -d) }

	insertClick(t, db, 1, "brand_a", "user_1", "converted", day(1))
	insertClick(t, db, 2, "brand_a", "user_1", "clicked", day(2))
	insertClick(t, db, 3, "brand_a", "user_2", "converted", day(3))
	insertClick(t, db, 4, "brand_a", nil, "expired", day(4))
	insertClick(t, db, 5, "brand_a", "user_3", "clicked", day(5))
	insertClick(t, db, 6, "brand_a", "user_9", "converted", day(45))
	insertClick(t, db, 7, "brand_b", "user_1", "converted", day(1))

	insertPurchase(t, db, 1, "brand_a", "credited", "1000.00", "50.00", day(1))
	insertPurchase(t, db, 2, "brand_a", "pending", "300.00", "15.00", day(2))
	insertPurchase(t, db, 3, "brand_a", "refunded", "200.50", "10.03", day(3))
	insertPurchase(t, db, 4, "brand_a", "credited", "999.00", "49.95", day(45))
	insertPurchase(t, db, 5, "brand_b", "credited", "5000.00", "100.00", day(1))

	report, err := svc.BrandAnalytics(ctx, analyticsdomain.BrandAnalyticsRequest{BrandID: "brand_a"})
	require.NoError(t, err)

	assert.True(t, report.End.Equal(testNow))
	assert.True(t, report.Start.Equal(testNow.Add(-30*24*time.Hour)))

	assert.Equal(t, int64(5), report.Clicks.TotalClicks)
	assert.Equal(t, int64(3), report.Clicks.UniqueUsers)
	assert.Equal(t, int64(2), report.Clicks.Conversions)
	assert.Equal(t, "40", report.Clicks.ConversionRate.String())

	assert.Equal(t, int64(3), report.Purchases.TotalPurchases)
	assert.Equal(t, "1500.5", report.Purchases.TotalAmount.String())
	assert.Equal(t, "65", report.Purchases.TotalCashback.String())
	assert.Equal(t, "500.17", report.Purchases.AverageOrderValue.String())
	assert.Equal(t, map[string]int64{"credited": 1, "pending": 1, "refunded": 1}, report.Purchases.ByStatus)

	assert.Equal(t, int64(40), report.Lifetime.TotalClicks)
	assert.Equal(t, "321.5", report.Lifetime.TotalCashbackPaid.String())
}

func TestBrandAnalytics_EmptyRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.BrandAnalytics(ctx, analyticsdomain.BrandAnalyticsRequest{BrandID: "brand_a"})
	require.NoError(t, err)
	assert.Zero(t, report.Clicks.TotalClicks)
	assert.True(t, report.Clicks.ConversionRate.IsZero())
	assert.True(t, report.Purchases.AverageOrderValue.IsZero())
	assert.Empty(t, report.Purchases.ByStatus)
}

func TestBrandAnalytics_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BrandAnalytics(ctx, analyticsdomain.BrandAnalyticsRequest{})
	assert.ErrorIs(t, err, branddomain.ErrInvalidBrandID)

	_, err = svc.BrandAnalytics(ctx, analyticsdomain.BrandAnalyticsRequest{BrandID: "missing"})
	assert.ErrorIs(t, err, branddomain.ErrBrandNotFound)

	start := testNow
	end := testNow.Add(-time.Hour)
	_, err = svc.BrandAnalytics(ctx, analyticsdomain.BrandAnalyticsRequest{BrandID: "brand_a", Start: &start, End: &end})
	assert.ErrorIs(t, err, analyticsdomain.ErrInvalidRange)
}
