package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=../mocks/service_mock.go -package=mocks

// CreditRequest moves cashback for one purchase into a user's wallet.
type CreditRequest struct {
	UserID      string
	PurchaseID  string
	BrandID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Service is the wallet balance store. CreditCashback is idempotent per
// purchase: a repeated call returns the original transaction.
type Service interface {
	CreditCashback(ctx context.Context, req CreditRequest) (Transaction, error)
	// CancelCashback marks the cashback credited for a purchase as cancelled.
	// It does not debit the wallet. Cancelling twice, or a purchase that was
	// never credited, is a no-op.
	CancelCashback(ctx context.Context, purchaseID, reason string) error
	GetBalance(ctx context.Context, userID string) (Wallet, error)
}

// CashbackValidity is how long credited cashback stays usable.
const CashbackValidity = 90 * 24 * time.Hour

var (
	ErrInvalidUserID     = errors.New("invalid_user_id")
	ErrInvalidPurchaseID = errors.New("invalid_purchase_id")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
)
