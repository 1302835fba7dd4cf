package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const ClickIDPrefix = "clk_"

type ClickStatus string

const (
	ClickStatusClicked   ClickStatus = "clicked"
	ClickStatusConverted ClickStatus = "converted"
	ClickStatusExpired   ClickStatus = "expired"
)

type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform normalizes a client supplied platform, defaulting to web.
func ParsePlatform(raw string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PlatformWeb:
		return PlatformWeb, true
	case PlatformIOS:
		return PlatformIOS, true
	case PlatformAndroid:
		return PlatformAndroid, true
	default:
		return "", false
	}
}

// Click is a recorded outbound visit to a brand. The cashback terms are
// snapshotted at click time; expires_at never changes after insert.
type Click struct {
	ID           snowflake.ID        `gorm:"primaryKey" json:"-"`
	ClickID      string              `gorm:"column:click_id" json:"click_id"`
	UserID       *string             `gorm:"column:user_id" json:"user_id,omitempty"`
	BrandID      string              `gorm:"column:brand_id" json:"brand_id"`
	BrandName    string              `gorm:"column:brand_name" json:"brand_name"`
	SessionID    string              `gorm:"column:session_id" json:"session_id,omitempty"`
	IPAddress    string              `gorm:"column:ip_address" json:"-"`
	UserAgent    string              `gorm:"column:user_agent" json:"-"`
	Referrer     string              `gorm:"column:referrer" json:"referrer,omitempty"`
	Platform     Platform            `gorm:"column:platform" json:"platform"`
	UTMSource    string              `gorm:"column:utm_source" json:"utm_source,omitempty"`
	UTMMedium    string              `gorm:"column:utm_medium" json:"utm_medium,omitempty"`
	UTMCampaign  string              `gorm:"column:utm_campaign" json:"utm_campaign,omitempty"`
	CashbackRate decimal.Decimal     `gorm:"column:cashback_rate" json:"cashback_rate"`
	MaxCashback  decimal.NullDecimal `gorm:"column:max_cashback" json:"max_cashback"`
	Status       ClickStatus         `gorm:"column:status" json:"status"`
	ClickedAt    time.Time           `gorm:"column:clicked_at" json:"clicked_at"`
	ExpiresAt    time.Time           `gorm:"column:expires_at" json:"expires_at"`
	ConvertedAt  *time.Time          `gorm:"column:converted_at" json:"converted_at,omitempty"`
	PurchaseID   *string             `gorm:"column:purchase_id" json:"purchase_id,omitempty"`
	CreatedAt    time.Time           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"column:updated_at" json:"updated_at"`
}

func (Click) TableName() string { return "clicks" }

// ConvertibleAt reports why the click cannot be attributed at now, if at all.
func (c Click) ConvertibleAt(now time.Time) error {
	switch c.Status {
	case ClickStatusConverted:
		return ErrClickAlreadyConverted
	case ClickStatusExpired:
		return ErrClickExpired
	}
	if now.After(c.ExpiresAt) {
		return ErrClickExpired
	}
	return nil
}

// NewClickID returns a time-ordered public click identifier.
func NewClickID() string {
	return ClickIDPrefix + ulid.Make().String()
}
