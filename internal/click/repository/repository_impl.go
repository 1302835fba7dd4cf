package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"gorm.io/gorm"
)

const clickColumns = `id, click_id, user_id, brand_id, brand_name, session_id, ip_address, user_agent,
	referrer, platform, utm_source, utm_medium, utm_campaign, cashback_rate, max_cashback, status,
	clicked_at, expires_at, converted_at, purchase_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, click *domain.Click) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO clicks (id, click_id, user_id, brand_id, brand_name, session_id, ip_address, user_agent,
			referrer, platform, utm_source, utm_medium, utm_campaign, cashback_rate, max_cashback, status,
			clicked_at, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		click.ID,
		click.ClickID,
		click.UserID,
		click.BrandID,
		click.BrandName,
		click.SessionID,
		click.IPAddress,
		click.UserAgent,
		click.Referrer,
		click.Platform,
		click.UTMSource,
		click.UTMMedium,
		click.UTMCampaign,
		click.CashbackRate,
		click.MaxCashback,
		click.Status,
		click.ClickedAt,
		click.ExpiresAt,
		click.CreatedAt,
		click.UpdatedAt,
	).Error
}

func (r *repo) FindByClickID(ctx context.Context, db *gorm.DB, clickID string) (*domain.Click, error) {
	var click domain.Click
	err := db.WithContext(ctx).Raw(
		`SELECT `+clickColumns+` FROM clicks WHERE click_id = ?`,
		clickID,
	).Scan(&click).Error
	if err != nil {
		return nil, err
	}
	if click.ID == 0 {
		return nil, nil
	}
	return &click, nil
}

func (r *repo) FindRecent(ctx context.Context, db *gorm.DB, filter domain.DuplicateFilter) (*domain.Click, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Click{}).
		Select(clickColumns).
		Where("brand_id = ? AND ip_address = ? AND status = ? AND clicked_at >= ?",
			filter.BrandID, filter.IPAddress, domain.ClickStatusClicked, filter.Since)
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	} else {
		stmt = stmt.Where("user_id IS NULL")
	}

	var clicks []*domain.Click
	if err := stmt.Order("clicked_at DESC, id DESC").Limit(1).Find(&clicks).Error; err != nil {
		return nil, err
	}
	if len(clicks) == 0 {
		return nil, nil
	}
	return clicks[0], nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, cursor *pagination.Cursor, limit int) ([]*domain.Click, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Click{}).
		Select(clickColumns).
		Where("user_id = ?", userID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var clicks []*domain.Click
	err := stmt.
		Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&clicks).Error
	if err != nil {
		return nil, err
	}
	return clicks, nil
}

func (r *repo) CountByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM clicks WHERE user_id = ?`, userID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) MarkConverted(ctx context.Context, db *gorm.DB, clickID, purchaseID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clicks
		 SET status = ?, purchase_id = ?, converted_at = ?, updated_at = ?
		 WHERE click_id = ? AND status = ?`,
		domain.ClickStatusConverted,
		purchaseID,
		at,
		at,
		clickID,
		domain.ClickStatusClicked,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clicks SET status = ?, updated_at = ? WHERE status = ? AND expires_at < ?`,
		domain.ClickStatusExpired,
		now,
		domain.ClickStatusClicked,
		now,
	)
	return res.RowsAffected, res.Error
}
