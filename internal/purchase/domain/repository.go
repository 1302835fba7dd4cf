package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransitionUpdate is a compare-and-set status change. It only applies while
// the row still has From and ExpectedVersion.
type TransitionUpdate struct {
	PurchaseID             string
	From                   Status
	To                     Status
	ExpectedVersion        int64
	History                datatypes.JSONSlice[StatusHistoryEntry]
	At                     time.Time
	VerifiedAt             *time.Time
	CreditedAt             *time.Time
	WalletTransactionID    *string
	ReconciliationRequired bool
}

type UserSummary struct {
	PurchaseCount int64
	Pending       decimal.Decimal
	Credited      decimal.Decimal
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindByPurchaseID(ctx context.Context, db *gorm.DB, purchaseID string) (*Purchase, error)
	FindByExternalOrder(ctx context.Context, db *gorm.DB, brandID, externalOrderID string) (*Purchase, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, status *Status, cursor *pagination.Cursor, limit int) ([]*Purchase, error)
	CountUserSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error)
	SummarizeUser(ctx context.Context, db *gorm.DB, userID string) (UserSummary, error)
	Transition(ctx context.Context, db *gorm.DB, update TransitionUpdate) (int64, error)
	ListCreditable(ctx context.Context, db *gorm.DB, now time.Time, exclude []string, limit int) ([]*Purchase, error)
	ListStaleClaims(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*Purchase, error)
}
