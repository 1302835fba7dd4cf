package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
)

type ListPurchasesRequest struct {
	UserID string
	Status string
	pagination.Pagination
}

type ListPurchasesResponse struct {
	pagination.PageInfo
	Purchases []Purchase `json:"purchases"`
}

type CashbackSummary struct {
	TotalEarned    decimal.Decimal `json:"totalEarned"`
	Pending        decimal.Decimal `json:"pending"`
	Credited       decimal.Decimal `json:"credited"`
	TotalClicks    int64           `json:"totalClicks"`
	TotalPurchases int64           `json:"totalPurchases"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
}

// Service is the purchase lifecycle. Every status change is a compare-and-set
// against the stored status and version and appends one history entry.
type Service interface {
	Get(ctx context.Context, purchaseID string) (Purchase, error)
	ListUserPurchases(ctx context.Context, req ListPurchasesRequest) (ListPurchasesResponse, error)
	CashbackSummary(ctx context.Context, userID string) (CashbackSummary, error)

	Confirm(ctx context.Context, purchaseID, reason string, actor Actor) (Purchase, error)
	Reject(ctx context.Context, purchaseID, reason string, actor Actor) (Purchase, error)
	Refund(ctx context.Context, purchaseID, reason string, actor Actor) (Purchase, error)

	ClaimForCredit(ctx context.Context, purchase Purchase) (Purchase, error)
	MarkCredited(ctx context.Context, purchase Purchase, walletTransactionID string) (Purchase, error)
	ReleaseClaim(ctx context.Context, purchase Purchase, reason string) (Purchase, error)
	ListCreditable(ctx context.Context, exclude []string, limit int) ([]Purchase, error)
	ListStaleClaims(ctx context.Context, olderThan time.Duration, limit int) ([]Purchase, error)
}

var (
	ErrInvalidPurchaseID = errors.New("invalid_purchase_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrPurchaseNotFound  = errors.New("purchase_not_found")
	ErrMissingReason     = errors.New("reason_required")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrActorNotAllowed   = errors.New("actor_not_allowed")
	ErrConcurrentUpdate  = errors.New("concurrent_update")
)
