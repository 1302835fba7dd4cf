package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const TransactionIDPrefix = "wtx_"

type TransactionType string

const (
	TransactionTypeCashback TransactionType = "cashback"
)

// SourceType names what a wallet transaction settles. Together with the
// source id and type it is unique, so a source is credited at most once.
type SourceType string

const (
	SourceTypeAffiliatePurchase SourceType = "affiliate_purchase"
)

type Wallet struct {
	UserID    string          `gorm:"column:user_id;primaryKey" json:"user_id"`
	Balance   decimal.Decimal `gorm:"column:balance" json:"balance"`
	Currency  string          `gorm:"column:currency" json:"currency"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// Transaction is an immutable balance movement.
type Transaction struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"-"`
	TransactionID string          `gorm:"column:transaction_id" json:"transaction_id"`
	UserID        string          `gorm:"column:user_id" json:"user_id"`
	Type          TransactionType `gorm:"column:type" json:"type"`
	Amount        decimal.Decimal `gorm:"column:amount" json:"amount"`
	Currency      string          `gorm:"column:currency" json:"currency"`
	BalanceBefore decimal.Decimal `gorm:"column:balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after" json:"balance_after"`
	SourceType    SourceType      `gorm:"column:source_type" json:"source_type"`
	SourceID      string          `gorm:"column:source_id" json:"source_id"`
	Description   string          `gorm:"column:description" json:"description"`
	CreatedAt     time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

const (
	UserCashbackActive    = "active"
	UserCashbackCancelled = "cancelled"
)

// UserCashback tracks credited cashback until it expires or the purchase
// behind it is refunded.
type UserCashback struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"-"`
	UserID              string          `gorm:"column:user_id" json:"user_id"`
	PurchaseID          string          `gorm:"column:purchase_id" json:"purchase_id"`
	BrandID             string          `gorm:"column:brand_id" json:"brand_id"`
	Amount              decimal.Decimal `gorm:"column:amount" json:"amount"`
	Currency            string          `gorm:"column:currency" json:"currency"`
	Status              string          `gorm:"column:status" json:"status"`
	WalletTransactionID string          `gorm:"column:wallet_transaction_id" json:"wallet_transaction_id"`
	ExpiresAt           time.Time       `gorm:"column:expires_at" json:"expires_at"`
	CancelReason        string          `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time      `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt           time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (UserCashback) TableName() string { return "user_cashbacks" }

func NewTransactionID() string {
	return TransactionIDPrefix + ulid.Make().String()
}
