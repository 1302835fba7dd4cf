package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/brand/domain"
	"gorm.io/gorm"
)

const brandColumns = `id, brand_id, name, slug, website_url, cashback_rate, max_cashback, is_active,
	webhook_enabled, webhook_api_key_hash, webhook_secret, total_clicks, total_purchases,
	total_cashback_paid, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, brand *domain.Brand) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO brands (id, brand_id, name, slug, website_url, cashback_rate, max_cashback, is_active,
			webhook_enabled, webhook_api_key_hash, webhook_secret, total_clicks, total_purchases,
			total_cashback_paid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		brand.ID,
		brand.BrandID,
		brand.Name,
		brand.Slug,
		brand.WebsiteURL,
		brand.CashbackRate,
		brand.MaxCashback,
		brand.IsActive,
		brand.WebhookEnabled,
		brand.WebhookAPIKeyHash,
		brand.WebhookSecret,
		brand.TotalClicks,
		brand.TotalPurchases,
		brand.TotalCashbackPaid,
		brand.CreatedAt,
		brand.UpdatedAt,
	).Error
}

func (r *repo) FindByBrandID(ctx context.Context, db *gorm.DB, brandID string) (*domain.Brand, error) {
	var brand domain.Brand
	err := db.WithContext(ctx).Raw(
		`SELECT `+brandColumns+` FROM brands WHERE brand_id = ?`,
		brandID,
	).Scan(&brand).Error
	if err != nil {
		return nil, err
	}
	if brand.ID == 0 {
		return nil, nil
	}
	return &brand, nil
}

func (r *repo) ListWebhookBrands(ctx context.Context, db *gorm.DB) ([]*domain.Brand, error) {
	var brands []*domain.Brand
	err := db.WithContext(ctx).Raw(
		`SELECT `+brandColumns+` FROM brands
		 WHERE webhook_enabled = ? AND is_active = ? AND webhook_api_key_hash IS NOT NULL
		 ORDER BY id`,
		true, true,
	).Scan(&brands).Error
	if err != nil {
		return nil, err
	}
	return brands, nil
}

func (r *repo) UpdateWebhookKey(ctx context.Context, db *gorm.DB, brandID, keyHash string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE brands SET webhook_api_key_hash = ?, webhook_enabled = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE brand_id = ?`,
		keyHash, true, brandID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) IncrementClicks(ctx context.Context, db *gorm.DB, brandID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE brands SET total_clicks = total_clicks + 1 WHERE brand_id = ?`,
		brandID,
	).Error
}

func (r *repo) IncrementPurchases(ctx context.Context, db *gorm.DB, brandID string, cashback decimal.Decimal) error {
	return db.WithContext(ctx).Exec(
		`UPDATE brands
		 SET total_purchases = total_purchases + 1,
		     total_cashback_paid = total_cashback_paid + ?
		 WHERE brand_id = ?`,
		cashback, brandID,
	).Error
}

func (r *repo) AdjustCashbackPaid(ctx context.Context, db *gorm.DB, brandID string, delta decimal.Decimal) error {
	return db.WithContext(ctx).Exec(
		`UPDATE brands SET total_cashback_paid = total_cashback_paid + ? WHERE brand_id = ?`,
		delta, brandID,
	).Error
}
