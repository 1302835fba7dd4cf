package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/brand/repository"
	"github.com/smallbiznis/cashback/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	svc := New(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()}).(*Service)
	return svc, db
}

func seedBrand(t *testing.T, db *gorm.DB, id int64, brandID, rawKey string, webhook bool) {
	t.Helper()
	now := time.Now().UTC()
	brand := &domain.Brand{
		BrandID:           brandID,
		Name:              "Brand " + brandID,
		Slug:              brandID,
		WebsiteURL:        "https://shop.example.com",
		CashbackRate:      decimal.NewFromInt(5),
		IsActive:          true,
		WebhookEnabled:    webhook,
		TotalCashbackPaid: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	brand.ID = snowflake.ID(id)
	if rawKey != "" {
		hash := domain.HashAPIKey(rawKey)
		brand.WebhookAPIKeyHash = &hash
	}
	require.NoError(t, repository.Provide().Insert(context.Background(), db, brand))
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBrandNotFound)

	_, err = svc.Get(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidBrandID)
}

func TestFindWebhookBrand(t *testing.T) {
	svc, db := newTestService(t)
	seedBrand(t, db, 1, "brand_a", "key-a", true)
	seedBrand(t, db, 2, "brand_b", "key-b", true)
	seedBrand(t, db, 3, "brand_c", "key-c", false)
	ctx := context.Background()

	brand, err := svc.FindWebhookBrand(ctx, "", "key-b")
	require.NoError(t, err)
	require.NotNil(t, brand)
	assert.Equal(t, "brand_b", brand.BrandID)

	brand, err = svc.FindWebhookBrand(ctx, "brand_a", "key-a")
	require.NoError(t, err)
	require.NotNil(t, brand)

	brand, err = svc.FindWebhookBrand(ctx, "brand_a", "key-b")
	require.NoError(t, err)
	assert.Nil(t, brand, "key must belong to the named brand")

	brand, err = svc.FindWebhookBrand(ctx, "", "key-c")
	require.NoError(t, err)
	assert.Nil(t, brand, "webhook-disabled brands never match")
}

func TestRotateWebhookKey(t *testing.T) {
	svc, db := newTestService(t)
	seedBrand(t, db, 1, "brand_a", "old-key", true)
	ctx := context.Background()

	raw, err := svc.RotateWebhookKey(ctx, "brand_a")
	require.NoError(t, err)
	assert.Contains(t, raw, webhookKeyPrefix)

	brand, err := svc.FindWebhookBrand(ctx, "", raw)
	require.NoError(t, err)
	require.NotNil(t, brand)

	brand, err = svc.FindWebhookBrand(ctx, "", "old-key")
	require.NoError(t, err)
	assert.Nil(t, brand)

	_, err = svc.RotateWebhookKey(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBrandNotFound)
}

func TestCounters(t *testing.T) {
	svc, db := newTestService(t)
	seedBrand(t, db, 1, "brand_a", "", false)
	ctx := context.Background()

	svc.RecordClick(ctx, "brand_a")
	svc.RecordClick(ctx, "brand_a")
	svc.RecordPurchase(ctx, "brand_a", decimal.RequireFromString("25.50"))
	svc.ReverseCashback(ctx, "brand_a", decimal.RequireFromString("5.50"))

	brand, err := svc.Get(ctx, "brand_a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), brand.TotalClicks)
	assert.Equal(t, int64(1), brand.TotalPurchases)
	assert.True(t, brand.TotalCashbackPaid.Equal(decimal.NewFromInt(20)), brand.TotalCashbackPaid.String())
}
