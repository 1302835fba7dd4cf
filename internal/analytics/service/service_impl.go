package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/cashback/internal/analytics/domain"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/clock"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Brands branddomain.Service
	Clock  clock.Clock
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	brands branddomain.Service
	clock  clock.Clock
}

func NewService(p Params) analyticsdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("analytics.service"),
		brands: p.Brands,
		clock:  p.Clock,
	}
}

var hundred = decimal.NewFromInt(100)

func (s *Service) BrandAnalytics(ctx context.Context, req analyticsdomain.BrandAnalyticsRequest) (analyticsdomain.BrandAnalytics, error) {
	brandID := strings.TrimSpace(req.BrandID)
	if brandID == "" {
		return analyticsdomain.BrandAnalytics{}, branddomain.ErrInvalidBrandID
	}

	start, end, err := normalizeRange(req.Start, req.End, s.clock.Now())
	if err != nil {
		return analyticsdomain.BrandAnalytics{}, err
	}

	brand, err := s.brands.Get(ctx, brandID)
	if err != nil {
		return analyticsdomain.BrandAnalytics{}, err
	}

	clicks, err := s.clickStats(ctx, brandID, start, end)
	if err != nil {
		return analyticsdomain.BrandAnalytics{}, err
	}
	purchases, err := s.purchaseStats(ctx, brandID, start, end)
	if err != nil {
		return analyticsdomain.BrandAnalytics{}, err
	}

	return analyticsdomain.BrandAnalytics{
		BrandID:   brand.BrandID,
		Start:     start,
		End:       end,
		Clicks:    clicks,
		Purchases: purchases,
		Lifetime: branddomain.Counters{
			TotalClicks:       brand.TotalClicks,
			TotalPurchases:    brand.TotalPurchases,
			TotalCashbackPaid: brand.TotalCashbackPaid,
		},
	}, nil
}

func (s *Service) clickStats(ctx context.Context, brandID string, start, end time.Time) (analyticsdomain.ClickStats, error) {
	var row struct {
		TotalClicks int64
		UniqueUsers int64
		Conversions int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total_clicks,
			COUNT(DISTINCT user_id) AS unique_users,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS conversions
		 FROM clicks
		 WHERE brand_id = ? AND clicked_at >= ? AND clicked_at < ?`,
		clickdomain.ClickStatusConverted,
		brandID, start, end,
	).Scan(&row).Error
	if err != nil {
		return analyticsdomain.ClickStats{}, err
	}

	return analyticsdomain.ClickStats{
		TotalClicks:    row.TotalClicks,
		UniqueUsers:    row.UniqueUsers,
		Conversions:    row.Conversions,
		ConversionRate: ratio(row.Conversions, row.TotalClicks),
	}, nil
}

func (s *Service) purchaseStats(ctx context.Context, brandID string, start, end time.Time) (analyticsdomain.PurchaseStats, error) {
	var rows []struct {
		Status        string
		Purchases     int64
		TotalAmount   decimal.Decimal
		TotalCashback decimal.Decimal
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT
			status,
			COUNT(*) AS purchases,
			COALESCE(SUM(order_amount), 0) AS total_amount,
			COALESCE(SUM(actual_cashback), 0) AS total_cashback
		 FROM purchases
		 WHERE brand_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY status`,
		brandID, start, end,
	).Scan(&rows).Error
	if err != nil {
		return analyticsdomain.PurchaseStats{}, err
	}

	stats := analyticsdomain.PurchaseStats{
		TotalAmount:       decimal.Zero,
		TotalCashback:     decimal.Zero,
		AverageOrderValue: decimal.Zero,
		ByStatus:          map[string]int64{},
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Purchases
		stats.TotalPurchases += row.Purchases
		stats.TotalAmount = stats.TotalAmount.Add(row.TotalAmount)
		// Rejected and refunded purchases never pay out.
		if paysCashback(purchasedomain.Status(row.Status)) {
			stats.TotalCashback = stats.TotalCashback.Add(row.TotalCashback)
		}
	}
	if stats.TotalPurchases > 0 {
		stats.AverageOrderValue = stats.TotalAmount.
			Div(decimal.NewFromInt(stats.TotalPurchases)).
			Round(2)
	}
	return stats, nil
}

func paysCashback(status purchasedomain.Status) bool {
	switch status {
	case purchasedomain.StatusRejected, purchasedomain.StatusRefunded:
		return false
	default:
		return true
	}
}

func ratio(part, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
}

func normalizeRange(start, end *time.Time, now time.Time) (time.Time, time.Time, error) {
	rangeEnd := now.UTC()
	if end != nil && !end.IsZero() {
		rangeEnd = end.UTC()
	}
	rangeStart := rangeEnd.Add(-analyticsdomain.DefaultRange)
	if start != nil && !start.IsZero() {
		rangeStart = start.UTC()
	}
	if !rangeStart.Before(rangeEnd) {
		return time.Time{}, time.Time{}, analyticsdomain.ErrInvalidRange
	}
	return rangeStart, rangeEnd, nil
}
