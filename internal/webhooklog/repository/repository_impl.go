package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.WebhookLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_logs (
			id, webhook_type, endpoint, method, headers, body, query, source_ip, user_agent,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.WebhookType,
		entry.Endpoint,
		entry.Method,
		entry.Headers,
		entry.Body,
		entry.Query,
		entry.SourceIP,
		entry.UserAgent,
		entry.Status,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, c domain.Completion) (int64, error) {
	var body any
	if len(c.ResponseBody) > 0 {
		body = string(c.ResponseBody)
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_logs
		 SET status = ?,
		     response_status = ?,
		     response_body = ?,
		     processing_time_ms = ?,
		     error_message = ?,
		     brand_id = COALESCE(?, brand_id),
		     brand_name = COALESCE(?, brand_name),
		     click_id = COALESCE(?, click_id),
		     purchase_id = COALESCE(?, purchase_id),
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		c.Status,
		c.ResponseStatus,
		body,
		c.ProcessingTimeMS,
		c.ErrorMessage,
		c.BrandID,
		c.BrandName,
		c.ClickID,
		c.PurchaseID,
		c.At,
		id,
		domain.OutcomeReceived,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.WebhookLog, error) {
	var logs []*domain.WebhookLog
	stmt := db.WithContext(ctx).Model(&domain.WebhookLog{})

	if filter.Type != "" {
		stmt = stmt.Where("webhook_type = ?", filter.Type)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.BrandID != "" {
		stmt = stmt.Where("brand_id = ?", filter.BrandID)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM webhook_logs WHERE created_at < ?`, before)
	return res.RowsAffected, res.Error
}
