package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/cashback/internal/purchase/domain"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"gorm.io/gorm"
)

const purchaseColumns = `id, purchase_id, click_id, user_id, brand_id, external_order_id, order_amount, currency,
	cashback_rate, cashback_amount, max_cashback, actual_cashback, status, status_history,
	verification_days, verification_ends_at, verified_at, credited_at, wallet_transaction_id,
	reconciliation_required, fraud_flags, webhook_payload, purchased_at, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO purchases (`+purchaseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.PurchaseID,
		p.ClickID,
		p.UserID,
		p.BrandID,
		p.ExternalOrderID,
		p.OrderAmount,
		p.Currency,
		p.CashbackRate,
		p.CashbackAmount,
		p.MaxCashback,
		p.ActualCashback,
		p.Status,
		p.StatusHistory,
		p.VerificationDays,
		p.VerificationEndsAt,
		p.VerifiedAt,
		p.CreditedAt,
		p.WalletTransactionID,
		p.ReconciliationRequired,
		p.FraudFlags,
		p.WebhookPayload,
		p.PurchasedAt,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByPurchaseID(ctx context.Context, db *gorm.DB, purchaseID string) (*domain.Purchase, error) {
	return r.findOne(ctx, db, `SELECT `+purchaseColumns+` FROM purchases WHERE purchase_id = ?`, purchaseID)
}

func (r *repo) FindByExternalOrder(ctx context.Context, db *gorm.DB, brandID, externalOrderID string) (*domain.Purchase, error) {
	return r.findOne(ctx, db,
		`SELECT `+purchaseColumns+` FROM purchases WHERE brand_id = ? AND external_order_id = ?`,
		brandID, externalOrderID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Purchase, error) {
	var purchase domain.Purchase
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&purchase).Error; err != nil {
		return nil, err
	}
	if purchase.ID == 0 {
		return nil, nil
	}
	return &purchase, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, status *domain.Status, cursor *pagination.Cursor, limit int) ([]*domain.Purchase, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Select(purchaseColumns).
		Where("user_id = ?", userID)
	if status != nil {
		stmt = stmt.Where("status = ?", *status)
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var purchases []*domain.Purchase
	err := stmt.
		Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *repo) CountUserSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM purchases WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SummarizeUser(ctx context.Context, db *gorm.DB, userID string) (domain.UserSummary, error) {
	var summary domain.UserSummary
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS purchase_count,
			COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN actual_cashback ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = ? THEN actual_cashback ELSE 0 END), 0) AS credited
		 FROM purchases WHERE user_id = ?`,
		domain.StatusPending, domain.StatusConfirmed, domain.StatusCrediting,
		domain.StatusCredited,
		userID,
	).Scan(&summary).Error
	return summary, err
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, u domain.TransitionUpdate) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET status = ?,
		     status_history = ?,
		     version = version + 1,
		     updated_at = ?,
		     verified_at = COALESCE(?, verified_at),
		     credited_at = COALESCE(?, credited_at),
		     wallet_transaction_id = COALESCE(?, wallet_transaction_id),
		     reconciliation_required = ?
		 WHERE purchase_id = ? AND status = ? AND version = ?`,
		u.To,
		u.History,
		u.At,
		u.VerifiedAt,
		u.CreditedAt,
		u.WalletTransactionID,
		u.ReconciliationRequired,
		u.PurchaseID,
		u.From,
		u.ExpectedVersion,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListCreditable(ctx context.Context, db *gorm.DB, now time.Time, exclude []string, limit int) ([]*domain.Purchase, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Select(purchaseColumns).
		Where("status = ? AND credited_at IS NULL AND user_id IS NOT NULL AND verification_ends_at <= ?", domain.StatusConfirmed, now)
	if len(exclude) > 0 {
		stmt = stmt.Where("purchase_id NOT IN ?", exclude)
	}

	var purchases []*domain.Purchase
	err := stmt.
		Order("verification_ends_at ASC, id ASC").
		Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *repo) ListStaleClaims(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*domain.Purchase, error) {
	var purchases []*domain.Purchase
	err := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Select(purchaseColumns).
		Where("status = ? AND updated_at < ?", domain.StatusCrediting, before).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}
