package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	purchaserepository "github.com/smallbiznis/cashback/internal/purchase/repository"
	purchaseservice "github.com/smallbiznis/cashback/internal/purchase/service"
	"github.com/smallbiznis/cashback/internal/ratelimit"
	"github.com/smallbiznis/cashback/internal/scheduler"
	settlementdomain "github.com/smallbiznis/cashback/internal/settlement/domain"
	"github.com/smallbiznis/cashback/internal/testutil"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	walletmocks "github.com/smallbiznis/cashback/internal/wallet/mocks"
	walletservice "github.com/smallbiznis/cashback/internal/wallet/service"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeClicks struct {
	clickdomain.Service
	expired int64
}

func (f *fakeClicks) ExpireClicks(context.Context) (int64, error) { return f.expired, nil }

type fakeWebhookLogs struct {
	webhooklogdomain.Service
	retention time.Duration
}

func (f *fakeWebhookLogs) Purge(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 7, nil
}

type noopBrands struct {
	branddomain.Service
}

func (noopBrands) ReverseCashback(context.Context, string, decimal.Decimal) {}

var testNow = time.Date(2026, 5, 20, 1, 0, 0, 0, time.UTC)

type fixture struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	node        *snowflake.Node
	purchases   purchasedomain.Service
	repo        purchasedomain.Repository
	clicks      *fakeClicks
	webhookLogs *fakeWebhookLogs
	cfg         config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	f := &fixture{
		db:          testutil.OpenDB(t),
		clock:       clock.NewFakeClock(testNow),
		node:        node,
		repo:        purchaserepository.Provide(),
		clicks:      &fakeClicks{expired: 3},
		webhookLogs: &fakeWebhookLogs{},
		cfg: config.Config{
			Affiliate: config.AffiliateConfig{DefaultCurrency: "INR"},
			Webhook:   config.WebhookConfig{LogRetention: 90 * 24 * time.Hour},
			Settlement: config.SettlementConfig{
				CreditSchedule:   "0 * * * *",
				CreditLockTTL:    30 * time.Minute,
				CreditTimeout:    time.Minute,
				CreditBatchSize:  2,
				CreditMaxBatches: 50,
				ExpireSchedule:   "30 2 * * *",
				PurgeSchedule:    "0 3 * * *",
			},
		},
	}
	f.purchases = purchaseservice.New(purchaseservice.Params{
		DB:     f.db,
		Log:    zap.NewNop(),
		Repo:   f.repo,
		Brands: noopBrands{},
		Clock:  f.clock,
	})
	return f
}

func (f *fixture) realWallet() walletdomain.Service {
	return walletservice.NewService(walletservice.Params{
		DB:     f.db,
		Log:    zap.NewNop(),
		GenID:  f.node,
		Clock:  f.clock,
		Config: f.cfg,
	})
}

func (f *fixture) settlement(wallet walletdomain.Service) *Service {
	return New(Params{
		Log:         zap.NewNop(),
		Config:      f.cfg,
		Purchases:   f.purchases,
		Wallet:      wallet,
		Clicks:      f.clicks,
		WebhookLogs: f.webhookLogs,
	}).(*Service)
}

// seed stores a purchase made age ago.
func (f *fixture) seed(t *testing.T, userID *string, status purchasedomain.Status, cashback string, age time.Duration) purchasedomain.Purchase {
	t.Helper()
	now := f.clock.Now()
	purchasedAt := now.Add(-age)
	p := purchasedomain.Purchase{
		ID:                 f.node.Generate(),
		PurchaseID:         purchasedomain.NewPurchaseID(),
		ClickID:            "clk_test",
		UserID:             userID,
		BrandID:            "brand_a",
		ExternalOrderID:    f.node.Generate().String(),
		OrderAmount:        decimal.NewFromInt(1000),
		Currency:           "INR",
		CashbackRate:       decimal.NewFromInt(5),
		CashbackAmount:     decimal.RequireFromString(cashback),
		ActualCashback:     decimal.RequireFromString(cashback),
		Status:             status,
		StatusHistory:      datatypes.JSONSlice[purchasedomain.StatusHistoryEntry]{{Status: status, Timestamp: purchasedAt, Actor: purchasedomain.ActorWebhook}},
		VerificationDays:   7,
		VerificationEndsAt: purchasedomain.VerificationEnd(purchasedAt, 7),
		FraudFlags:         datatypes.JSONSlice[string]{},
		WebhookPayload:     datatypes.JSON(`{}`),
		PurchasedAt:        purchasedAt,
		CreatedAt:          purchasedAt,
		UpdatedAt:          now,
	}
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &p))
	return p
}

func (f *fixture) get(t *testing.T, purchaseID string) purchasedomain.Purchase {
	t.Helper()
	p, err := f.purchases.Get(context.Background(), purchaseID)
	require.NoError(t, err)
	return p
}

func user(id string) *string { return &id }

const day = 24 * time.Hour

func TestCreditPendingCashback_ReleasesFailedClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	wallet := walletmocks.NewMockService(ctrl)

	ok := f.seed(t, user("user_1"), purchasedomain.StatusConfirmed, "50.00", 8*day)
	broken := f.seed(t, user("user_2"), purchasedomain.StatusConfirmed, "20.00", 7*day)
	young := f.seed(t, user("user_3"), purchasedomain.StatusConfirmed, "10.00", 6*day+23*time.Hour)
	anonymous := f.seed(t, nil, purchasedomain.StatusConfirmed, "10.00", 9*day)
	pending := f.seed(t, user("user_4"), purchasedomain.StatusPending, "10.00", 9*day)

	walletErr := errors.New("wallet unavailable")
	wallet.EXPECT().
		CreditCashback(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req walletdomain.CreditRequest) (walletdomain.Transaction, error) {
			switch req.PurchaseID {
			case ok.PurchaseID:
				assert.Equal(t, "user_1", req.UserID)
				assert.True(t, req.Amount.Equal(decimal.NewFromInt(50)))
				return walletdomain.Transaction{TransactionID: "wtx_ok"}, nil
			case broken.PurchaseID:
				return walletdomain.Transaction{}, walletErr
			}
			t.Fatalf("unexpected credit for %s", req.PurchaseID)
			return walletdomain.Transaction{}, nil
		}).
		Times(2)

	svc := f.settlement(wallet)
	result, err := svc.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Equal(t, settlementdomain.CreditResult{Credited: 1, Total: 2, Failed: 1}, result)

	credited := f.get(t, ok.PurchaseID)
	assert.Equal(t, purchasedomain.StatusCredited, credited.Status)
	require.NotNil(t, credited.WalletTransactionID)
	assert.Equal(t, "wtx_ok", *credited.WalletTransactionID)
	require.NotNil(t, credited.CreditedAt)

	released := f.get(t, broken.PurchaseID)
	assert.Equal(t, purchasedomain.StatusConfirmed, released.Status)
	history := released.StatusHistory
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, purchasedomain.StatusCrediting, history[len(history)-2].Status)
	assert.Equal(t, "wallet credit failed", history[len(history)-1].Reason)

	for _, p := range []purchasedomain.Purchase{young, anonymous, pending} {
		assert.Equal(t, p.Status, f.get(t, p.PurchaseID).Status)
	}

	// the released purchase is retried on the next run
	wallet.EXPECT().
		CreditCashback(gomock.Any(), gomock.Any()).
		Return(walletdomain.Transaction{TransactionID: "wtx_retry"}, nil)
	result, err = svc.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Equal(t, settlementdomain.CreditResult{Credited: 1, Total: 1}, result)
	assert.Equal(t, purchasedomain.StatusCredited, f.get(t, broken.PurchaseID).Status)
}

func TestCreditPendingCashback_BatchesUntilDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.seed(t, user("user_1"), purchasedomain.StatusConfirmed, "10.00", 10*day)
	}

	svc := f.settlement(f.realWallet())
	result, err := svc.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Credited)
	assert.Equal(t, 5, result.Total)

	balance, err := f.realWallet().GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(50)), balance.Balance.String())
}

func TestCreditPendingCashback_RecoversStaleClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accel := testutil.NewTimeAccelerator(f.db)

	p := f.seed(t, user("user_1"), purchasedomain.StatusConfirmed, "30.00", 8*day)
	claimed, err := f.purchases.ClaimForCredit(ctx, p)
	require.NoError(t, err)
	require.Equal(t, purchasedomain.StatusCrediting, claimed.Status)

	svc := f.settlement(f.realWallet())

	// a fresh claim belongs to a live run
	result, err := svc.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Released)
	assert.Zero(t, result.Total)

	require.NoError(t, accel.StaleClaim(ctx, p.PurchaseID, testNow.Add(-time.Hour)))
	result, err = svc.CreditPendingCashback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Released)
	assert.Equal(t, 1, result.Credited)
	assert.Equal(t, purchasedomain.StatusCredited, f.get(t, p.PurchaseID).Status)
}

func TestCreditPendingCashback_ConcurrentRunsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seeded []purchasedomain.Purchase
	for i := 0; i < 6; i++ {
		seeded = append(seeded, f.seed(t, user("user_1"), purchasedomain.StatusConfirmed, "5.00", 8*day))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.settlement(f.realWallet()).CreditPendingCashback(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += result.Credited
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(seeded), total)
	var txCount int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM wallet_transactions`).Scan(&txCount).Error)
	assert.Equal(t, int64(len(seeded)), txCount)

	balance, err := f.realWallet().GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(30)), balance.Balance.String())
}

func TestSettlementTasks_RunUnderSharedLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, user("user_1"), purchasedomain.StatusConfirmed, "12.00", 8*day)

	registry := prometheus.NewRegistry()
	obsmetrics.ResetSchedulerMetricsForTest()
	t.Cleanup(obsmetrics.ResetSchedulerMetricsForTest)
	oldRegisterer := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = registry
	t.Cleanup(func() { prometheus.DefaultRegisterer = oldRegisterer })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := f.settlement(f.realWallet())
	newRunner := func() *scheduler.Scheduler {
		runner, err := scheduler.New(scheduler.Params{
			Log:    zap.NewNop(),
			Locker: ratelimit.NewLocker(client, f.cfg, zap.NewNop()),
			GenID:  f.node,
			Clock:  f.clock,
			Gather: registry,
		})
		require.NoError(t, err)
		for _, task := range Tasks(svc, f.cfg.Settlement) {
			require.NoError(t, runner.Register(task))
		}
		return runner
	}
	first, second := newRunner(), newRunner()
	assert.Equal(t, []string{"credit_pending_cashback", "expire_clicks", "purge_webhook_logs"}, first.Jobs())

	// another instance holds the credit lock
	require.NoError(t, mr.Set("lock:credit_pending_cashback", "instance-b"))
	_, err = first.RunOnce(ctx, settlementdomain.JobCreditPendingCashback)
	assert.ErrorIs(t, err, scheduler.ErrJobLocked)
	mr.Del("lock:credit_pending_cashback")

	report, err := second.RunOnce(ctx, settlementdomain.JobCreditPendingCashback)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Result.Processed)
	assert.Equal(t, 1, report.Result.Counts[obsmetrics.ItemOutcomeCredited])

	report, err = first.RunOnce(ctx, settlementdomain.JobCreditPendingCashback)
	require.NoError(t, err)
	assert.Zero(t, report.Result.Processed)

	report, err = first.RunOnce(ctx, settlementdomain.JobExpireClicks)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Result.Processed)

	report, err = second.RunOnce(ctx, settlementdomain.JobPurgeWebhookLogs)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Result.Processed)
	assert.Equal(t, 90*24*time.Hour, f.webhookLogs.retention)
}
