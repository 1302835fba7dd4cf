package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const PurchaseIDPrefix = "pur_"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	// StatusCrediting is held by the settlement job while the wallet credit is
	// in flight.
	StatusCrediting Status = "crediting"
	StatusCredited  Status = "credited"
	StatusRejected  Status = "rejected"
	StatusRefunded  Status = "refunded"
)

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusPending, StatusConfirmed, StatusCrediting, StatusCredited, StatusRejected, StatusRefunded:
		return s, true
	default:
		return "", false
	}
}

type Actor string

const (
	ActorSystem  Actor = "system"
	ActorWebhook Actor = "webhook"
	ActorAdmin   Actor = "admin"
)

type StatusHistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Actor     Actor     `json:"actor"`
}

type Purchase struct {
	ID                     snowflake.ID                            `gorm:"primaryKey" json:"-"`
	PurchaseID             string                                  `gorm:"column:purchase_id" json:"purchase_id"`
	ClickID                string                                  `gorm:"column:click_id" json:"click_id"`
	UserID                 *string                                 `gorm:"column:user_id" json:"user_id,omitempty"`
	BrandID                string                                  `gorm:"column:brand_id" json:"brand_id"`
	ExternalOrderID        string                                  `gorm:"column:external_order_id" json:"external_order_id"`
	OrderAmount            decimal.Decimal                         `gorm:"column:order_amount" json:"order_amount"`
	Currency               string                                  `gorm:"column:currency" json:"currency"`
	CashbackRate           decimal.Decimal                         `gorm:"column:cashback_rate" json:"cashback_rate"`
	CashbackAmount         decimal.Decimal                         `gorm:"column:cashback_amount" json:"cashback_amount"`
	MaxCashback            decimal.NullDecimal                     `gorm:"column:max_cashback" json:"max_cashback"`
	ActualCashback         decimal.Decimal                         `gorm:"column:actual_cashback" json:"actual_cashback"`
	Status                 Status                                  `gorm:"column:status" json:"status"`
	StatusHistory          datatypes.JSONSlice[StatusHistoryEntry] `gorm:"column:status_history" json:"status_history"`
	VerificationDays       int                                     `gorm:"column:verification_days" json:"verification_days"`
	VerificationEndsAt     time.Time                               `gorm:"column:verification_ends_at" json:"verification_ends_at"`
	VerifiedAt             *time.Time                              `gorm:"column:verified_at" json:"verified_at,omitempty"`
	CreditedAt             *time.Time                              `gorm:"column:credited_at" json:"credited_at,omitempty"`
	WalletTransactionID    *string                                 `gorm:"column:wallet_transaction_id" json:"wallet_transaction_id,omitempty"`
	ReconciliationRequired bool                                    `gorm:"column:reconciliation_required" json:"reconciliation_required"`
	FraudFlags             datatypes.JSONSlice[string]             `gorm:"column:fraud_flags" json:"fraud_flags,omitempty"`
	WebhookPayload         datatypes.JSON                          `gorm:"column:webhook_payload" json:"-"`
	PurchasedAt            time.Time                               `gorm:"column:purchased_at" json:"purchased_at"`
	Version                int64                                   `gorm:"column:version" json:"-"`
	CreatedAt              time.Time                               `gorm:"column:created_at" json:"created_at"`
	UpdatedAt              time.Time                               `gorm:"column:updated_at" json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

// ElapsedDays is the number of whole days since the brand reported the order.
func (p Purchase) ElapsedDays(now time.Time) int {
	elapsed := now.Sub(p.PurchasedAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}

// CreditableAt reports whether the settlement job may pay this purchase out.
// Purchases from anonymous clicks have no wallet to credit.
func (p Purchase) CreditableAt(now time.Time) bool {
	return p.Status == StatusConfirmed &&
		p.CreditedAt == nil &&
		p.UserID != nil &&
		p.ElapsedDays(now) >= p.VerificationDays
}

func NewPurchaseID() string {
	return PurchaseIDPrefix + ulid.Make().String()
}

// VerificationEnd is the first instant at which a purchase made at purchasedAt
// has waited days whole days.
func VerificationEnd(purchasedAt time.Time, days int) time.Time {
	return purchasedAt.Add(time.Duration(days) * 24 * time.Hour).UTC()
}
