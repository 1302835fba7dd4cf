package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/conversion/domain"
	"github.com/smallbiznis/cashback/internal/events"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	"github.com/smallbiznis/cashback/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	ClickSvc  clickdomain.Service
	Clicks    clickdomain.Repository
	Purchases purchasedomain.Repository
	Brands    branddomain.Service
	Clock     clock.Clock
	Config    config.Config
	Policy    *config.PolicyHolder `optional:"true"`
	Events    events.Publisher     `optional:"true"`
	Outbox    *events.Outbox       `optional:"true"`
	Metrics   *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clickSvc  clickdomain.Service
	clicks    clickdomain.Repository
	purchases purchasedomain.Repository
	brands    branddomain.Service
	clock     clock.Clock
	cfg       config.AffiliateConfig
	policy    *config.PolicyHolder
	events    events.Publisher
	outbox    *events.Outbox
	metrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("conversion.service"),
		genID:     p.GenID,
		clickSvc:  p.ClickSvc,
		clicks:    p.Clicks,
		purchases: p.Purchases,
		brands:    p.Brands,
		clock:     p.Clock,
		cfg:       p.Config.Affiliate,
		policy:    p.Policy,
		events:    p.Events,
		outbox:    p.Outbox,
		metrics:   p.Metrics,
	}
}

func (s *Service) ProcessConversion(ctx context.Context, req domain.ProcessConversionRequest) (domain.ProcessConversionResult, error) {
	log := logger.WithContext(ctx, s.log)

	if !req.OrderAmount.IsPositive() {
		return domain.ProcessConversionResult{}, domain.ErrInvalidAmount
	}
	orderID := strings.TrimSpace(req.ExternalOrderID)
	if orderID == "" {
		return domain.ProcessConversionResult{}, domain.ErrInvalidOrderID
	}
	clickID := strings.TrimSpace(req.ClickID)
	if clickID == "" {
		return domain.ProcessConversionResult{}, clickdomain.ErrInvalidClickID
	}
	requested, err := initialStatus(req.Status)
	if err != nil {
		return domain.ProcessConversionResult{}, err
	}

	click, convertErr := s.clickSvc.ValidateForConversion(ctx, clickID)
	if click.ClickID == "" {
		return domain.ProcessConversionResult{}, convertErr
	}

	authBrand := strings.TrimSpace(req.AuthenticatedBrandID)
	if authBrand != "" && authBrand != click.BrandID {
		log.Warn("conversion.attribution_mismatch",
			zap.String("click_id", click.ClickID),
			zap.String("click_brand_id", click.BrandID),
			zap.String("authenticated_brand_id", authBrand),
		)
		return domain.ProcessConversionResult{}, domain.ErrAttributionMismatch
	}

	// A replayed webhook finds its purchase before the click state is
	// checked, since the click was converted by the first delivery.
	existing, err := s.purchases.FindByExternalOrder(ctx, s.db, click.BrandID, orderID)
	if err != nil {
		return domain.ProcessConversionResult{}, err
	}
	if existing != nil {
		log.Info("conversion.duplicate",
			zap.String("purchase_id", existing.PurchaseID),
			zap.String("external_order_id", orderID),
		)
		s.metrics.RecordConversion(ctx, "duplicate")
		return domain.ProcessConversionResult{Purchase: *existing, Duplicate: true}, nil
	}

	if convertErr != nil {
		return domain.ProcessConversionResult{}, convertErr
	}
	now := s.clock.Now()

	cashback, err := domain.CalculateCashback(req.OrderAmount.Round(2), click.CashbackRate, click.MaxCashback)
	if err != nil {
		return domain.ProcessConversionResult{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	signals := domain.FraudSignals{
		Anonymous:   click.UserID == nil,
		ClickedAt:   click.ClickedAt,
		ConvertedAt: now,
		OrderAmount: req.OrderAmount,
		Currency:    currency,
	}
	if click.UserID != nil {
		recent, err := s.purchases.CountUserSince(ctx, s.db, *click.UserID, now.Add(-time.Hour))
		if err != nil {
			return domain.ProcessConversionResult{}, err
		}
		signals.RecentConversions = recent
	}
	flags := domain.FraudFlags(signals, s.policy.Get())

	status := requested
	verificationDays := s.cfg.VerificationDays
	if len(flags) > 0 {
		status = purchasedomain.StatusPending
		verificationDays = s.cfg.FlaggedVerificationDays
		log.Warn("conversion.flagged",
			zap.String("click_id", click.ClickID),
			zap.Strings("fraud_flags", flags),
		)
	}

	purchasedAt := now
	if req.PurchasedAt != nil && !req.PurchasedAt.IsZero() {
		purchasedAt = req.PurchasedAt.UTC()
	}

	payload := datatypes.JSON(`{}`)
	if len(req.RawPayload) > 0 {
		payload = datatypes.JSON(req.RawPayload)
	}

	purchase := purchasedomain.Purchase{
		ID:              s.genID.Generate(),
		PurchaseID:      purchasedomain.NewPurchaseID(),
		ClickID:         click.ClickID,
		UserID:          click.UserID,
		BrandID:         click.BrandID,
		ExternalOrderID: orderID,
		OrderAmount:     req.OrderAmount,
		Currency:        currency,
		CashbackRate:    click.CashbackRate,
		CashbackAmount:  cashback.Calculated,
		MaxCashback:     click.MaxCashback,
		ActualCashback:  cashback.Actual,
		Status:          status,
		StatusHistory: datatypes.JSONSlice[purchasedomain.StatusHistoryEntry]{{
			Status:    status,
			Timestamp: now,
			Reason:    "conversion received",
			Actor:     purchasedomain.ActorWebhook,
		}},
		VerificationDays:   verificationDays,
		VerificationEndsAt: purchasedomain.VerificationEnd(purchasedAt, verificationDays),
		FraudFlags:         datatypes.JSONSlice[string](flags),
		WebhookPayload:     payload,
		PurchasedAt:        purchasedAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if status == purchasedomain.StatusConfirmed {
		purchase.VerifiedAt = &now
	}

	created := []events.Event{events.New(events.PurchaseCreated, purchase.PurchaseID, now, map[string]any{
		"purchase_id":     purchase.PurchaseID,
		"click_id":        purchase.ClickID,
		"brand_id":        purchase.BrandID,
		"user_id":         derefString(purchase.UserID),
		"status":          string(purchase.Status),
		"order_amount":    purchase.OrderAmount.StringFixed(2),
		"cashback_amount": purchase.ActualCashback.StringFixed(2),
		"currency":        purchase.Currency,
		"fraud_flags":     flags,
	})}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.purchases.Insert(ctx, tx, &purchase); err != nil {
			return err
		}
		affected, err := s.clicks.MarkConverted(ctx, tx, click.ClickID, purchase.PurchaseID, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return clickdomain.ErrClickAlreadyConverted
		}
		return s.outbox.Add(ctx, tx, created)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) || errors.Is(err, clickdomain.ErrClickAlreadyConverted) {
			winner, findErr := s.purchases.FindByExternalOrder(ctx, s.db, click.BrandID, orderID)
			if findErr != nil {
				return domain.ProcessConversionResult{}, findErr
			}
			if winner != nil {
				log.Info("conversion.duplicate.concurrent",
					zap.String("purchase_id", winner.PurchaseID),
					zap.String("external_order_id", orderID),
				)
				s.metrics.RecordConversion(ctx, "duplicate")
				return domain.ProcessConversionResult{Purchase: *winner, Duplicate: true}, nil
			}
		}
		return domain.ProcessConversionResult{}, err
	}

	s.brands.RecordPurchase(ctx, purchase.BrandID, purchase.ActualCashback)
	s.metrics.RecordConversion(ctx, "created")
	if s.events != nil {
		s.events.Publish(ctx, created[0])
	}

	log.Info("conversion.processed",
		zap.String("purchase_id", purchase.PurchaseID),
		zap.String("click_id", purchase.ClickID),
		zap.String("status", string(purchase.Status)),
		zap.String("cashback", purchase.ActualCashback.StringFixed(2)),
	)
	return domain.ProcessConversionResult{Purchase: purchase}, nil
}

func initialStatus(raw string) (purchasedomain.Status, error) {
	switch purchasedomain.Status(strings.ToLower(strings.TrimSpace(raw))) {
	case "", purchasedomain.StatusPending:
		return purchasedomain.StatusPending, nil
	case purchasedomain.StatusConfirmed:
		return purchasedomain.StatusConfirmed, nil
	default:
		return "", domain.ErrInvalidStatus
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
