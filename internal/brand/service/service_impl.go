package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/internal/brand/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	webhookKeyPrefix      = "whk_"
	webhookKeySecretBytes = 32
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("brand.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, brandID string) (domain.Brand, error) {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return domain.Brand{}, domain.ErrInvalidBrandID
	}

	brand, err := s.repo.FindByBrandID(ctx, s.db, brandID)
	if err != nil {
		return domain.Brand{}, err
	}
	if brand == nil {
		return domain.Brand{}, domain.ErrBrandNotFound
	}
	return *brand, nil
}

func (s *Service) FindWebhookBrand(ctx context.Context, brandID, apiKey string) (*domain.Brand, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil
	}
	hash := domain.HashAPIKey(apiKey)

	if brandID = strings.TrimSpace(brandID); brandID != "" {
		brand, err := s.repo.FindByBrandID(ctx, s.db, brandID)
		if err != nil {
			return nil, err
		}
		if brand == nil || !brand.IsActive || !brand.WebhookEnabled || !hashMatches(brand.WebhookAPIKeyHash, hash) {
			return nil, nil
		}
		return brand, nil
	}

	brands, err := s.repo.ListWebhookBrands(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for _, candidate := range brands {
		if candidate != nil && hashMatches(candidate.WebhookAPIKeyHash, hash) {
			return candidate, nil
		}
	}
	return nil, nil
}

func (s *Service) RotateWebhookKey(ctx context.Context, brandID string) (string, error) {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return "", domain.ErrInvalidBrandID
	}

	secret, err := randomHex(webhookKeySecretBytes)
	if err != nil {
		return "", fmt.Errorf("generate webhook key: %w", err)
	}
	raw := webhookKeyPrefix + secret

	affected, err := s.repo.UpdateWebhookKey(ctx, s.db, brandID, domain.HashAPIKey(raw))
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", domain.ErrBrandNotFound
	}

	s.log.Info("brand.webhook_key.rotated", zap.String("brand_id", brandID))
	return raw, nil
}

func (s *Service) RecordClick(ctx context.Context, brandID string) {
	if err := s.repo.IncrementClicks(ctx, s.db, brandID); err != nil {
		s.log.Warn("brand.counter.click_failed", zap.String("brand_id", brandID), zap.Error(err))
	}
}

func (s *Service) RecordPurchase(ctx context.Context, brandID string, cashback decimal.Decimal) {
	if err := s.repo.IncrementPurchases(ctx, s.db, brandID, cashback); err != nil {
		s.log.Warn("brand.counter.purchase_failed", zap.String("brand_id", brandID), zap.Error(err))
	}
}

func (s *Service) ReverseCashback(ctx context.Context, brandID string, cashback decimal.Decimal) {
	if err := s.repo.AdjustCashbackPaid(ctx, s.db, brandID, cashback.Neg()); err != nil {
		s.log.Warn("brand.counter.reverse_failed", zap.String("brand_id", brandID), zap.Error(err))
	}
}

func hashMatches(stored *string, hash string) bool {
	if stored == nil || *stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(hash)) == 1
}

func randomHex(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
