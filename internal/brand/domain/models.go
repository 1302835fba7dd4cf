package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Brand struct {
	ID                snowflake.ID        `gorm:"primaryKey" json:"-"`
	BrandID           string              `gorm:"column:brand_id" json:"brand_id"`
	Name              string              `gorm:"column:name" json:"name"`
	Slug              string              `gorm:"column:slug" json:"slug"`
	WebsiteURL        string              `gorm:"column:website_url" json:"website_url"`
	CashbackRate      decimal.Decimal     `gorm:"column:cashback_rate" json:"cashback_rate"`
	MaxCashback       decimal.NullDecimal `gorm:"column:max_cashback" json:"max_cashback"`
	IsActive          bool                `gorm:"column:is_active" json:"is_active"`
	WebhookEnabled    bool                `gorm:"column:webhook_enabled" json:"webhook_enabled"`
	WebhookAPIKeyHash *string             `gorm:"column:webhook_api_key_hash" json:"-"`
	WebhookSecret     *string             `gorm:"column:webhook_secret" json:"-"`
	TotalClicks       int64               `gorm:"column:total_clicks" json:"total_clicks"`
	TotalPurchases    int64               `gorm:"column:total_purchases" json:"total_purchases"`
	TotalCashbackPaid decimal.Decimal     `gorm:"column:total_cashback_paid" json:"total_cashback_paid"`
	CreatedAt         time.Time           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (Brand) TableName() string { return "brands" }

// HasWebhookSecret reports whether webhook bodies from this brand must carry
// an HMAC signature.
func (b Brand) HasWebhookSecret() bool {
	return b.WebhookSecret != nil && *b.WebhookSecret != ""
}

type Counters struct {
	TotalClicks       int64           `json:"total_clicks"`
	TotalPurchases    int64           `json:"total_purchases"`
	TotalCashbackPaid decimal.Decimal `json:"total_cashback_paid"`
}
