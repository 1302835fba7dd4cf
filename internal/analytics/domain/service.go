package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
)

// DefaultRange is used when the caller does not bound the report.
const DefaultRange = 30 * 24 * time.Hour

type BrandAnalyticsRequest struct {
	BrandID string
	Start   *time.Time
	End     *time.Time
}

type ClickStats struct {
	TotalClicks    int64           `json:"totalClicks"`
	UniqueUsers    int64           `json:"uniqueUsers"`
	Conversions    int64           `json:"conversions"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
}

type PurchaseStats struct {
	TotalPurchases    int64            `json:"totalPurchases"`
	TotalAmount       decimal.Decimal  `json:"totalAmount"`
	TotalCashback     decimal.Decimal  `json:"totalCashback"`
	AverageOrderValue decimal.Decimal  `json:"averageOrderValue"`
	ByStatus          map[string]int64 `json:"byStatus"`
}

type BrandAnalytics struct {
	BrandID   string               `json:"brandId"`
	Start     time.Time            `json:"start"`
	End       time.Time            `json:"end"`
	Clicks    ClickStats           `json:"clicks"`
	Purchases PurchaseStats        `json:"purchases"`
	Lifetime  branddomain.Counters `json:"lifetime"`
}

type Service interface {
	BrandAnalytics(ctx context.Context, req BrandAnalyticsRequest) (BrandAnalytics, error)
}

var ErrInvalidRange = errors.New("invalid_date_range")
