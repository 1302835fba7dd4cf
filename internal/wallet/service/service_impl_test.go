package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/testutil"
	"github.com/smallbiznis/cashback/internal/wallet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return NewService(Params{
		DB:     testutil.OpenDB(t),
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(testNow),
		Config: config.Config{Affiliate: config.AffiliateConfig{DefaultCurrency: "INR"}},
	}).(*Service)
}

func TestCreditCashback_TracksBalanceAndCashbackExpiry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreditCashback(ctx, domain.CreditRequest{
		UserID: "user_1", PurchaseID: "pur_1", BrandID: "brand_a", Amount: decimal.RequireFromString("12.50"),
	})
	require.NoError(t, err)
	assert.Regexp(t, `^wtx_`, first.TransactionID)
	assert.True(t, first.BalanceBefore.IsZero())
	assert.True(t, first.BalanceAfter.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "INR", first.Currency)

	second, err := svc.CreditCashback(ctx, domain.CreditRequest{
		UserID: "user_1", PurchaseID: "pur_2", BrandID: "brand_a", Amount: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	assert.True(t, second.BalanceBefore.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, second.BalanceAfter.Equal(decimal.RequireFromString("32.50")))

	wallet, err := svc.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("32.50")))

	var cashback domain.UserCashback
	require.NoError(t, svc.db.Raw(
		`SELECT id, user_id, purchase_id, brand_id, amount, currency, status, wallet_transaction_id, expires_at, created_at
		 FROM user_cashbacks WHERE purchase_id = ?`, "pur_1",
	).Scan(&cashback).Error)
	assert.Equal(t, first.TransactionID, cashback.WalletTransactionID)
	assert.Equal(t, domain.UserCashbackActive, cashback.Status)
	assert.True(t, cashback.ExpiresAt.Equal(testNow.Add(90*24*time.Hour)))
}

func TestCreditCashback_IdempotentPerPurchase(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req := domain.CreditRequest{UserID: "user_1", PurchaseID: "pur_1", Amount: decimal.NewFromInt(10)}

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := svc.CreditCashback(ctx, req)
			assert.NoError(t, err)
			ids[i] = txn.TransactionID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	wallet, err := svc.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(10)), wallet.Balance.String())
}

func TestCreditCashback_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreditCashback(ctx, domain.CreditRequest{PurchaseID: "pur_1", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
	_, err = svc.CreditCashback(ctx, domain.CreditRequest{UserID: "u", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidPurchaseID)
	_, err = svc.CreditCashback(ctx, domain.CreditRequest{UserID: "u", PurchaseID: "p", Amount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	wallet, err := svc.GetBalance(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.IsZero())
}

func TestCancelCashback_MarksActiveRowOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreditCashback(ctx, domain.CreditRequest{UserID: "user_1", PurchaseID: "pur_1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	require.NoError(t, svc.CancelCashback(ctx, "pur_1", "order returned"))
	require.NoError(t, svc.CancelCashback(ctx, "pur_1", "second refund"))
	require.NoError(t, svc.CancelCashback(ctx, "pur_never_credited", "order returned"))
	assert.ErrorIs(t, svc.CancelCashback(ctx, " ", "x"), domain.ErrInvalidPurchaseID)

	var cashback domain.UserCashback
	require.NoError(t, svc.db.Raw(
		`SELECT purchase_id, status, cancel_reason, cancelled_at FROM user_cashbacks WHERE purchase_id = ?`, "pur_1",
	).Scan(&cashback).Error)
	assert.Equal(t, domain.UserCashbackCancelled, cashback.Status)
	assert.Equal(t, "order returned", cashback.CancelReason)
	require.NotNil(t, cashback.CancelledAt)
	assert.True(t, cashback.CancelledAt.Equal(testNow))

	// the wallet debit is settled separately
	wallet, err := svc.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
}
