package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, brand *Brand) error
	FindByBrandID(ctx context.Context, db *gorm.DB, brandID string) (*Brand, error)
	ListWebhookBrands(ctx context.Context, db *gorm.DB) ([]*Brand, error)
	UpdateWebhookKey(ctx context.Context, db *gorm.DB, brandID, keyHash string) (int64, error)
	IncrementClicks(ctx context.Context, db *gorm.DB, brandID string) error
	IncrementPurchases(ctx context.Context, db *gorm.DB, brandID string, cashback decimal.Decimal) error
	AdjustCashbackPaid(ctx context.Context, db *gorm.DB, brandID string, delta decimal.Decimal) error
}
