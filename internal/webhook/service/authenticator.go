package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	"github.com/smallbiznis/cashback/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type AuthenticatorParams struct {
	fx.In

	Config config.Config
	Brands branddomain.Service
	Log    *zap.Logger
}

type Authenticator struct {
	masterKey  string
	production bool
	brands     branddomain.Service
	log        *zap.Logger
}

func NewAuthenticator(p AuthenticatorParams) domain.Authenticator {
	a := &Authenticator{
		production: p.Config.IsProduction(),
		brands:     p.Brands,
		log:        p.Log.Named("webhook.auth"),
	}
	if p.Config.MasterKeyEnabled() {
		a.masterKey = p.Config.Webhook.MasterKey
	} else if p.Config.Webhook.MasterKey != "" {
		a.log.Warn("webhook.master_key.ignored", zap.String("environment", p.Config.Environment))
	}
	return a
}

func (a *Authenticator) Authenticate(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	log := logger.WithContext(ctx, a.log)

	apiKey := strings.TrimSpace(creds.APIKey)
	if apiKey == "" {
		return domain.Identity{}, domain.ErrInvalidAPIKey
	}

	if a.masterKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.masterKey)) == 1 {
		return domain.Identity{Kind: domain.IdentityMaster, Signed: true}, nil
	}

	brand, err := a.brands.FindWebhookBrand(ctx, creds.BrandID, apiKey)
	if err != nil {
		return domain.Identity{}, err
	}
	if brand == nil {
		return domain.Identity{}, domain.ErrInvalidAPIKey
	}

	identity := domain.Identity{Kind: domain.IdentityBrand, Brand: brand}
	signature := normalizeSignature(creds.Signature)

	if !brand.HasWebhookSecret() {
		if a.production {
			log.Warn("webhook.auth.secret_missing", zap.String("brand_id", brand.BrandID))
			return domain.Identity{}, domain.ErrSecretNotConfigured
		}
		log.Warn("webhook.auth.unsigned_allowed", zap.String("brand_id", brand.BrandID))
		return identity, nil
	}

	if signature == "" {
		if a.production {
			return domain.Identity{}, domain.ErrMissingSignature
		}
		log.Warn("webhook.auth.unsigned_allowed", zap.String("brand_id", brand.BrandID))
		return identity, nil
	}

	if !VerifySignature(*brand.WebhookSecret, creds.Body, signature) {
		log.Warn("webhook.auth.signature_mismatch", zap.String("brand_id", brand.BrandID))
		return domain.Identity{}, domain.ErrInvalidSignature
	}
	identity.Signed = true
	return identity, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against the HMAC of the raw body in
// constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(normalizeSignature(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

func normalizeSignature(signature string) string {
	signature = strings.ToLower(strings.TrimSpace(signature))
	return strings.TrimPrefix(signature, "sha256=")
}
