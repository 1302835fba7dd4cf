package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/config"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	"github.com/smallbiznis/cashback/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBrands struct {
	branddomain.Service
	brands map[string]branddomain.Brand
}

func (f *fakeBrands) FindWebhookBrand(_ context.Context, brandID, apiKey string) (*branddomain.Brand, error) {
	b, ok := f.brands[apiKey]
	if !ok {
		return nil, nil
	}
	if brandID != "" && brandID != b.BrandID {
		return nil, nil
	}
	return &b, nil
}

func strptr(s string) *string { return &s }

func newAuthenticator(env string, masterKey string, allowProd bool) domain.Authenticator {
	brands := &fakeBrands{brands: map[string]branddomain.Brand{
		"key_signed": {
			BrandID:       "brand_a",
			Name:          "Acme",
			CashbackRate:  decimal.NewFromInt(5),
			WebhookSecret: strptr("s3cret"),
		},
		"key_unsigned": {BrandID: "brand_b", Name: "Bolt"},
	}}
	return NewAuthenticator(AuthenticatorParams{
		Config: config.Config{
			Environment: env,
			Webhook: config.WebhookConfig{
				MasterKey:                  masterKey,
				AllowMasterKeyInProduction: allowProd,
			},
		},
		Brands: brands,
		Log:    zap.NewNop(),
	})
}

func TestAuthenticate_SignedBrand(t *testing.T) {
	auth := newAuthenticator(config.EnvProduction, "", false)
	ctx := context.Background()
	body := []byte(`{"click_id":"clk_1","order_id":"o-1","order_amount":100}`)

	identity, err := auth.Authenticate(ctx, domain.Credentials{
		APIKey:    "key_signed",
		Signature: "sha256=" + Sign("s3cret", body),
		Body:      body,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityBrand, identity.Kind)
	assert.Equal(t, "brand_a", identity.BrandID())
	assert.True(t, identity.Signed)
	assert.Equal(t, purchasedomain.ActorWebhook, identity.Actor())

	tampered := []byte(`{"click_id":"clk_1","order_id":"o-1","order_amount":900}`)
	_, err = auth.Authenticate(ctx, domain.Credentials{
		APIKey:    "key_signed",
		Signature: Sign("s3cret", body),
		Body:      tampered,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = auth.Authenticate(ctx, domain.Credentials{APIKey: "key_signed", Body: body})
	assert.ErrorIs(t, err, domain.ErrMissingSignature)

	_, err = auth.Authenticate(ctx, domain.Credentials{APIKey: "key_signed", Signature: "not-hex", Body: body})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	auth := newAuthenticator(config.EnvDevelopment, "", false)
	ctx := context.Background()

	_, err := auth.Authenticate(ctx, domain.Credentials{APIKey: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	_, err = auth.Authenticate(ctx, domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	_, err = auth.Authenticate(ctx, domain.Credentials{APIKey: "key_signed", BrandID: "brand_b"})
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
}

func TestAuthenticate_UnsignedOutsideProduction(t *testing.T) {
	ctx := context.Background()

	dev := newAuthenticator(config.EnvDevelopment, "", false)
	identity, err := dev.Authenticate(ctx, domain.Credentials{APIKey: "key_unsigned", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, identity.Signed)

	identity, err = dev.Authenticate(ctx, domain.Credentials{APIKey: "key_signed", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, identity.Signed)

	prod := newAuthenticator(config.EnvProduction, "", false)
	_, err = prod.Authenticate(ctx, domain.Credentials{APIKey: "key_unsigned", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, domain.ErrSecretNotConfigured)
}

func TestAuthenticate_MasterKey(t *testing.T) {
	ctx := context.Background()

	dev := newAuthenticator(config.EnvDevelopment, "master_123", false)
	identity, err := dev.Authenticate(ctx, domain.Credentials{APIKey: "master_123"})
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityMaster, identity.Kind)
	assert.Empty(t, identity.BrandID())
	assert.Equal(t, purchasedomain.ActorAdmin, identity.Actor())

	prod := newAuthenticator(config.EnvProduction, "master_123", false)
	_, err = prod.Authenticate(ctx, domain.Credentials{APIKey: "master_123"})
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	allowed := newAuthenticator(config.EnvProduction, "master_123", true)
	identity, err = allowed.Authenticate(ctx, domain.Credentials{APIKey: "master_123"})
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityMaster, identity.Kind)
}

func TestIdempotencyStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{
		Redis:   config.RedisConfig{KeyPrefix: "test:"},
		Webhook: config.WebhookConfig{IdempotencyTTL: time.Hour},
	}
	store := NewIdempotencyStore(client, cfg, zap.NewNop())
	ctx := context.Background()
	key := domain.IdempotencyKey("conversion", "o-1", "brand_a")
	assert.Equal(t, "webhook_idem:conversion:o-1:brand_a", key)

	_, ok := store.Get(ctx, key)
	assert.False(t, ok)

	store.Put(ctx, key, []byte(`{"success":true}`))
	data, ok := store.Get(ctx, key)
	require.True(t, ok)
	assert.JSONEq(t, `{"success":true}`, string(data))
	assert.Equal(t, time.Hour, mr.TTL("test:"+key))

	mr.FastForward(time.Hour + time.Second)
	_, ok = store.Get(ctx, key)
	assert.False(t, ok)

	mr.Close()
	_, ok = store.Get(ctx, key)
	assert.False(t, ok)
	store.Put(ctx, key, []byte(`{}`))
}
