package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"gorm.io/gorm"
)

type DuplicateFilter struct {
	BrandID   string
	IPAddress string
	UserID    string
	Since     time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, click *Click) error
	FindByClickID(ctx context.Context, db *gorm.DB, clickID string) (*Click, error)
	FindRecent(ctx context.Context, db *gorm.DB, filter DuplicateFilter) (*Click, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, cursor *pagination.Cursor, limit int) ([]*Click, error)
	CountByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	MarkConverted(ctx context.Context, db *gorm.DB, clickID, purchaseID string, at time.Time) (int64, error)
	ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
