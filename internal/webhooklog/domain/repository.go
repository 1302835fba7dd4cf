package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Type    Type
	Status  Outcome
	BrandID string
	Cursor  *pagination.Cursor
	Limit   int
}

// Completion is the single update applied to a received log entry.
type Completion struct {
	Status           Outcome
	ResponseStatus   int
	ResponseBody     []byte
	ProcessingTimeMS int64
	ErrorMessage     *string
	BrandID          *string
	BrandName        *string
	ClickID          *string
	PurchaseID       *string
	At               time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *WebhookLog) error
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, c Completion) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*WebhookLog, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}
