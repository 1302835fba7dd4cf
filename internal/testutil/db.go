// Package testutil holds the SQLite schema and time helpers shared by the
// affiliate package tests.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE brands (
		id INTEGER PRIMARY KEY,
		brand_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		slug TEXT NOT NULL DEFAULT '',
		website_url TEXT NOT NULL DEFAULT '',
		cashback_rate NUMERIC NOT NULL DEFAULT 0,
		max_cashback NUMERIC,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		webhook_enabled BOOLEAN NOT NULL DEFAULT 0,
		webhook_api_key_hash TEXT,
		webhook_secret TEXT,
		total_clicks INTEGER NOT NULL DEFAULT 0,
		total_purchases INTEGER NOT NULL DEFAULT 0,
		total_cashback_paid NUMERIC NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE clicks (
		id INTEGER PRIMARY KEY,
		click_id TEXT NOT NULL UNIQUE,
		user_id TEXT,
		brand_id TEXT NOT NULL,
		brand_name TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT 'web',
		utm_source TEXT NOT NULL DEFAULT '',
		utm_medium TEXT NOT NULL DEFAULT '',
		utm_campaign TEXT NOT NULL DEFAULT '',
		cashback_rate NUMERIC NOT NULL,
		max_cashback NUMERIC,
		status TEXT NOT NULL DEFAULT 'clicked',
		clicked_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		converted_at DATETIME,
		purchase_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE purchases (
		id INTEGER PRIMARY KEY,
		purchase_id TEXT NOT NULL UNIQUE,
		click_id TEXT NOT NULL,
		user_id TEXT,
		brand_id TEXT NOT NULL,
		external_order_id TEXT NOT NULL,
		order_amount NUMERIC NOT NULL,
		currency TEXT NOT NULL DEFAULT 'INR',
		cashback_rate NUMERIC NOT NULL,
		cashback_amount NUMERIC NOT NULL,
		max_cashback NUMERIC,
		actual_cashback NUMERIC NOT NULL,
		status TEXT NOT NULL,
		status_history TEXT NOT NULL DEFAULT '[]',
		verification_days INTEGER NOT NULL DEFAULT 7,
		verification_ends_at DATETIME NOT NULL,
		verified_at DATETIME,
		credited_at DATETIME,
		wallet_transaction_id TEXT,
		reconciliation_required BOOLEAN NOT NULL DEFAULT 0,
		fraud_flags TEXT NOT NULL DEFAULT '[]',
		webhook_payload TEXT,
		purchased_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (brand_id, external_order_id)
	)`,
	`CREATE TABLE webhook_logs (
		id INTEGER PRIMARY KEY,
		webhook_type TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL,
		headers TEXT,
		body TEXT,
		query TEXT,
		source_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		brand_id TEXT,
		brand_name TEXT,
		status TEXT NOT NULL DEFAULT 'received',
		response_status INTEGER,
		response_body TEXT,
		processing_time_ms INTEGER,
		error_message TEXT,
		click_id TEXT,
		purchase_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE wallets (
		user_id TEXT PRIMARY KEY,
		balance NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'INR',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE wallet_transactions (
		id INTEGER PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		balance_before NUMERIC NOT NULL,
		balance_after NUMERIC NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		UNIQUE (source_type, source_id, type)
	)`,
	`CREATE TABLE user_cashbacks (
		id INTEGER PRIMARY KEY,
		user_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL UNIQUE,
		brand_id TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		wallet_transaction_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		cancel_reason TEXT,
		cancelled_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE event_outbox (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		event_key TEXT NOT NULL,
		body TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME,
		delivered_at DATETIME
	)`,
}

// OpenDB returns an isolated in-memory database with the affiliate schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	return db
}
