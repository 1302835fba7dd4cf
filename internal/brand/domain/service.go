package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Service is the brand directory seen by the affiliate engine.
type Service interface {
	Get(ctx context.Context, brandID string) (Brand, error)
	// FindWebhookBrand resolves the active webhook-enabled brand owning apiKey.
	// brandID narrows the lookup when the caller sent one.
	FindWebhookBrand(ctx context.Context, brandID, apiKey string) (*Brand, error)
	RotateWebhookKey(ctx context.Context, brandID string) (string, error)

	RecordClick(ctx context.Context, brandID string)
	RecordPurchase(ctx context.Context, brandID string, cashback decimal.Decimal)
	ReverseCashback(ctx context.Context, brandID string, cashback decimal.Decimal)
}

var (
	ErrInvalidBrandID  = errors.New("invalid_brand_id")
	ErrBrandNotFound   = errors.New("brand_not_found")
	ErrBrandInactive   = errors.New("brand_inactive")
	ErrBrandMissingURL = errors.New("brand_missing_website_url")
)
