package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	brandrepository "github.com/smallbiznis/cashback/internal/brand/repository"
	brandservice "github.com/smallbiznis/cashback/internal/brand/service"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	clickrepository "github.com/smallbiznis/cashback/internal/click/repository"
	clickservice "github.com/smallbiznis/cashback/internal/click/service"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	conversiondomain "github.com/smallbiznis/cashback/internal/conversion/domain"
	conversionservice "github.com/smallbiznis/cashback/internal/conversion/service"
	"github.com/smallbiznis/cashback/internal/events"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	purchaserepository "github.com/smallbiznis/cashback/internal/purchase/repository"
	purchaseservice "github.com/smallbiznis/cashback/internal/purchase/service"
	"github.com/smallbiznis/cashback/internal/testutil"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	walletservice "github.com/smallbiznis/cashback/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// lifecycle wires the real services over one database and one clock.
type lifecycle struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	clicks      clickdomain.Service
	conversions conversiondomain.Service
	purchases   purchasedomain.Service
	wallet      walletdomain.Service
	settlement  *Service
}

const lifecycleBrand = "brd_acme"

func newLifecycle(t *testing.T, start time.Time) *lifecycle {
	t.Helper()
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()

	cfg := config.Config{
		Affiliate: config.AffiliateConfig{
			AttributionWindow:       30 * day,
			VerificationDays:        7,
			FlaggedVerificationDays: 14,
			DefaultCurrency:         "INR",
			TrackingRef:             "rez",
			TrackingSource:          "rez_mall",
			TrackingMedium:          "affiliate",
		},
		Settlement: config.SettlementConfig{
			CreditLockTTL:    30 * time.Minute,
			CreditTimeout:    time.Minute,
			CreditBatchSize:  10,
			CreditMaxBatches: 10,
		},
	}

	require.NoError(t, brandrepository.Provide().Insert(context.Background(), db, &branddomain.Brand{
		ID:           node.Generate(),
		BrandID:      lifecycleBrand,
		Name:         "Acme",
		WebsiteURL:   "https://acme.example.com",
		CashbackRate: decimal.NewFromInt(10),
		IsActive:     true,
		CreatedAt:    start,
		UpdatedAt:    start,
	}))
	brands := brandservice.New(brandservice.Params{DB: db, Log: log, Repo: brandrepository.Provide()})
	outbox := events.NewOutbox(db, clk)

	l := &lifecycle{db: db, clock: clk}
	l.clicks = clickservice.New(clickservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Repo:   clickrepository.Provide(),
		Brands: brands,
		Clock:  clk,
		Config: cfg,
	})
	l.wallet = walletservice.NewService(walletservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clk,
		Config: cfg,
	})
	l.purchases = purchaseservice.New(purchaseservice.Params{
		DB:     db,
		Log:    log,
		Repo:   purchaserepository.Provide(),
		Clicks: l.clicks,
		Brands: brands,
		Clock:  clk,
		Wallet: l.wallet,
		Outbox: outbox,
	})
	l.conversions = conversionservice.New(conversionservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		ClickSvc:  l.clicks,
		Clicks:    clickrepository.Provide(),
		Purchases: purchaserepository.Provide(),
		Brands:    brands,
		Clock:     clk,
		Config:    cfg,
		Policy:    config.NewStaticPolicyHolder(config.DefaultFraudPolicy()),
		Outbox:    outbox,
	})
	l.settlement = New(Params{
		Log:         log,
		Config:      cfg,
		Purchases:   l.purchases,
		Wallet:      l.wallet,
		Clicks:      l.clicks,
		WebhookLogs: &fakeWebhookLogs{},
	}).(*Service)
	return l
}

func TestLifecycle_ClickToWalletCredit(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	l := newLifecycle(t, start)
	ctx := context.Background()

	click, err := l.clicks.TrackClick(ctx, clickdomain.TrackClickRequest{
		BrandID:   lifecycleBrand,
		UserID:    "user_1",
		IPAddress: "10.1.1.1",
	})
	require.NoError(t, err)

	l.clock.Set(start.Add(time.Hour))
	converted, err := l.conversions.ProcessConversion(ctx, conversiondomain.ProcessConversionRequest{
		ClickID:              click.ClickID,
		ExternalOrderID:      "ORD-1001",
		OrderAmount:          decimal.NewFromInt(1000),
		AuthenticatedBrandID: lifecycleBrand,
	})
	require.NoError(t, err)
	purchaseID := converted.Purchase.PurchaseID
	assert.Equal(t, purchasedomain.StatusPending, converted.Purchase.Status)
	assert.True(t, converted.Purchase.ActualCashback.Equal(decimal.NewFromInt(100)), converted.Purchase.ActualCashback.String())

	_, err = l.purchases.Confirm(ctx, purchaseID, "order shipped", purchasedomain.ActorWebhook)
	require.NoError(t, err)

	// still inside the verification window
	l.clock.Set(start.Add(7 * day))
	result, err := l.settlement.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Credited)

	l.clock.Set(start.Add(8 * day))
	result, err = l.settlement.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Credited)

	credited, err := l.purchases.Get(ctx, purchaseID)
	require.NoError(t, err)
	assert.Equal(t, purchasedomain.StatusCredited, credited.Status)
	require.NotNil(t, credited.WalletTransactionID)

	balance, err := l.wallet.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(100)), balance.Balance.String())

	// a refund after credit cancels the cashback row and queues the reversal
	_, err = l.purchases.Refund(ctx, purchaseID, "order returned", purchasedomain.ActorWebhook)
	require.NoError(t, err)

	var cashback walletdomain.UserCashback
	require.NoError(t, l.db.Raw(
		`SELECT purchase_id, status, cancel_reason FROM user_cashbacks WHERE purchase_id = ?`, purchaseID,
	).Scan(&cashback).Error)
	assert.Equal(t, walletdomain.UserCashbackCancelled, cashback.Status)
	assert.Equal(t, "order returned", cashback.CancelReason)

	var reversals int64
	require.NoError(t, l.db.Raw(
		`SELECT COUNT(*) FROM event_outbox WHERE event_type = ? AND event_key = ?`,
		string(events.CashbackReversalRequired), purchaseID,
	).Scan(&reversals).Error)
	assert.Equal(t, int64(1), reversals)
}

func TestLifecycle_ExpiredClickRejectsConversion(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	l := newLifecycle(t, start)
	ctx := context.Background()

	click, err := l.clicks.TrackClick(ctx, clickdomain.TrackClickRequest{
		BrandID:   lifecycleBrand,
		UserID:    "user_2",
		IPAddress: "10.1.1.2",
	})
	require.NoError(t, err)

	l.clock.Set(start.Add(31 * day))
	expired, err := l.settlement.ExpireClicks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	_, err = l.conversions.ProcessConversion(ctx, conversiondomain.ProcessConversionRequest{
		ClickID:              click.ClickID,
		ExternalOrderID:      "ORD-2001",
		OrderAmount:          decimal.NewFromInt(1000),
		AuthenticatedBrandID: lifecycleBrand,
	})
	assert.ErrorIs(t, err, clickdomain.ErrClickExpired)

	var purchases int64
	require.NoError(t, l.db.Raw(`SELECT COUNT(*) FROM purchases`).Scan(&purchases).Error)
	assert.Zero(t, purchases)
}
