package service

import (
	"context"
	"errors"
	"fmt"

	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	settlementdomain "github.com/smallbiznis/cashback/internal/settlement/domain"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Purchases   purchasedomain.Service
	Wallet      walletdomain.Service
	Clicks      clickdomain.Service
	WebhookLogs webhooklogdomain.Service
}

type Service struct {
	log         *zap.Logger
	cfg         config.SettlementConfig
	retention   config.WebhookConfig
	purchases   purchasedomain.Service
	wallet      walletdomain.Service
	clicks      clickdomain.Service
	webhookLogs webhooklogdomain.Service
}

func New(p Params) settlementdomain.Service {
	cfg := p.Config.Settlement
	if cfg.CreditBatchSize <= 0 {
		cfg.CreditBatchSize = 200
	}
	if cfg.CreditMaxBatches <= 0 {
		cfg.CreditMaxBatches = 50
	}
	return &Service{
		log:         p.Log.Named("settlement.service"),
		cfg:         cfg,
		retention:   p.Config.Webhook,
		purchases:   p.Purchases,
		wallet:      p.Wallet,
		clicks:      p.Clicks,
		webhookLogs: p.WebhookLogs,
	}
}

func (s *Service) CreditPendingCashback(ctx context.Context) (settlementdomain.CreditResult, error) {
	log := logger.WithContext(ctx, s.log)
	var result settlementdomain.CreditResult

	released, err := s.releaseStaleClaims(ctx)
	result.Released = released
	if err != nil {
		return result, err
	}

	// purchases that failed or were claimed elsewhere are not retried in
	// this run
	var exclude []string
	for batch := 0; batch < s.cfg.CreditMaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		purchases, err := s.purchases.ListCreditable(ctx, exclude, s.cfg.CreditBatchSize)
		if err != nil {
			return result, fmt.Errorf("list creditable purchases: %w", err)
		}
		if len(purchases) == 0 {
			break
		}

		for _, purchase := range purchases {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Total++
			switch err := s.creditOne(ctx, purchase); {
			case err == nil:
				result.Credited++
			case errors.Is(err, errClaimLost):
				result.Skipped++
				exclude = append(exclude, purchase.PurchaseID)
			default:
				result.Failed++
				exclude = append(exclude, purchase.PurchaseID)
				log.Error("settlement.credit.failed",
					zap.String("purchase_id", purchase.PurchaseID),
					zap.Error(err),
				)
			}
		}

		if len(purchases) < s.cfg.CreditBatchSize {
			break
		}
	}

	log.Info("settlement.credit.completed",
		zap.Int("credited", result.Credited),
		zap.Int("total", result.Total),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("released", result.Released),
	)
	return result, nil
}

var errClaimLost = errors.New("settlement claim lost")

func (s *Service) creditOne(ctx context.Context, purchase purchasedomain.Purchase) error {
	claimed, err := s.purchases.ClaimForCredit(ctx, purchase)
	if err != nil {
		if errors.Is(err, purchasedomain.ErrConcurrentUpdate) || errors.Is(err, purchasedomain.ErrInvalidTransition) {
			return errClaimLost
		}
		return fmt.Errorf("claim: %w", err)
	}

	tx, err := s.wallet.CreditCashback(ctx, walletdomain.CreditRequest{
		UserID:      derefString(claimed.UserID),
		PurchaseID:  claimed.PurchaseID,
		BrandID:     claimed.BrandID,
		Amount:      claimed.ActualCashback,
		Currency:    claimed.Currency,
		Description: "Cashback for order " + claimed.ExternalOrderID,
	})
	if err != nil {
		s.release(ctx, claimed, "wallet credit failed")
		return fmt.Errorf("wallet credit: %w", err)
	}

	if _, err := s.purchases.MarkCredited(ctx, claimed, tx.TransactionID); err != nil {
		// the wallet credit is idempotent per purchase, so the next run
		// finishes this one
		s.release(ctx, claimed, "mark credited failed")
		return fmt.Errorf("mark credited: %w", err)
	}
	return nil
}

func (s *Service) release(ctx context.Context, claimed purchasedomain.Purchase, reason string) {
	if _, err := s.purchases.ReleaseClaim(ctx, claimed, reason); err != nil {
		logger.WithContext(ctx, s.log).Warn("settlement.claim.release_failed",
			zap.String("purchase_id", claimed.PurchaseID),
			zap.Error(err),
		)
	}
}

func (s *Service) releaseStaleClaims(ctx context.Context) (int, error) {
	if s.cfg.CreditLockTTL <= 0 {
		return 0, nil
	}
	stale, err := s.purchases.ListStaleClaims(ctx, s.cfg.CreditLockTTL, s.cfg.CreditBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}

	released := 0
	for _, purchase := range stale {
		if _, err := s.purchases.ReleaseClaim(ctx, purchase, "stale settlement claim"); err != nil {
			logger.WithContext(ctx, s.log).Warn("settlement.claim.release_failed",
				zap.String("purchase_id", purchase.PurchaseID),
				zap.Error(err),
			)
			continue
		}
		released++
	}
	if released > 0 {
		logger.WithContext(ctx, s.log).Warn("settlement.claim.recovered", zap.Int("count", released))
	}
	return released, nil
}

func (s *Service) ExpireClicks(ctx context.Context) (int64, error) {
	expired, err := s.clicks.ExpireClicks(ctx)
	if err != nil {
		return 0, err
	}
	logger.WithContext(ctx, s.log).Info("settlement.clicks.expired", zap.Int64("count", expired))
	return expired, nil
}

func (s *Service) PurgeWebhookLogs(ctx context.Context) (int64, error) {
	return s.webhookLogs.Purge(ctx, s.retention.LogRetention)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
