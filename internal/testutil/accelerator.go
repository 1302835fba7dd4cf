package testutil

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// TimeAccelerator backdates rows so settlement and expiry paths can be
// exercised without waiting.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// AgePurchase moves purchased_at, and the verification end derived from it,
// back by age.
func (ta *TimeAccelerator) AgePurchase(ctx context.Context, purchaseID string, age time.Duration) error {
	var row struct {
		PurchasedAt        time.Time
		VerificationEndsAt time.Time
	}
	if err := ta.db.WithContext(ctx).Raw(
		`SELECT purchased_at, verification_ends_at FROM purchases WHERE purchase_id = ?`, purchaseID,
	).Scan(&row).Error; err != nil {
		return err
	}
	return ta.db.WithContext(ctx).Exec(
		`UPDATE purchases SET purchased_at = ?, verification_ends_at = ? WHERE purchase_id = ?`,
		row.PurchasedAt.Add(-age).UTC(),
		row.VerificationEndsAt.Add(-age).UTC(),
		purchaseID,
	).Error
}

// ExpireClick sets expires_at of a click to one minute before now.
func (ta *TimeAccelerator) ExpireClick(ctx context.Context, clickID string, now time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE clicks SET expires_at = ? WHERE click_id = ?`,
		now.Add(-time.Minute).UTC(),
		clickID,
	).Error
}

// StaleClaim makes a crediting claim look older than the recovery threshold.
func (ta *TimeAccelerator) StaleClaim(ctx context.Context, purchaseID string, at time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE purchases SET updated_at = ? WHERE purchase_id = ?`,
		at.UTC(),
		purchaseID,
	).Error
}
