package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
)

// ProcessConversionRequest is a brand-reported order attributed to a click.
type ProcessConversionRequest struct {
	ClickID         string
	ExternalOrderID string
	OrderAmount     decimal.Decimal
	Currency        string
	// Status is the initial purchase status requested by the brand, pending
	// or confirmed. Empty means pending.
	Status      string
	PurchasedAt *time.Time
	// AuthenticatedBrandID is the brand resolved from webhook credentials.
	// Empty when the caller authenticated with the master key.
	AuthenticatedBrandID string
	RawPayload           json.RawMessage
}

type ProcessConversionResult struct {
	Purchase  purchasedomain.Purchase
	Duplicate bool
}

type Service interface {
	ProcessConversion(ctx context.Context, req ProcessConversionRequest) (ProcessConversionResult, error)
}

var (
	ErrInvalidAmount       = errors.New("invalid_order_amount")
	ErrInvalidOrderID      = errors.New("invalid_order_id")
	ErrInvalidCashbackRate = errors.New("invalid_cashback_rate")
	ErrInvalidStatus       = errors.New("invalid_initial_status")
	ErrAttributionMismatch = errors.New("attribution_mismatch")
)
