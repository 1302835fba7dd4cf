package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/events"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	"github.com/smallbiznis/cashback/internal/ratelimit"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Brands  branddomain.Service
	Clock   clock.Clock
	Config  config.Config
	Limiter *ratelimit.ClickLimiter `optional:"true"`
	Events  events.Publisher        `optional:"true"`
	Metrics *obsmetrics.Metrics     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	brands  branddomain.Service
	clock   clock.Clock
	cfg     config.AffiliateConfig
	limiter *ratelimit.ClickLimiter
	events  events.Publisher
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("click.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		brands:  p.Brands,
		clock:   p.Clock,
		cfg:     p.Config.Affiliate,
		limiter: p.Limiter,
		events:  p.Events,
		metrics: p.Metrics,
	}
}

func (s *Service) TrackClick(ctx context.Context, req domain.TrackClickRequest) (domain.TrackClickResponse, error) {
	platform, ok := domain.ParsePlatform(req.Platform)
	if !ok {
		return domain.TrackClickResponse{}, domain.ErrInvalidPlatform
	}

	brand, err := s.brands.Get(ctx, req.BrandID)
	if err != nil {
		return domain.TrackClickResponse{}, err
	}
	if !brand.IsActive {
		return domain.TrackClickResponse{}, branddomain.ErrBrandInactive
	}
	if strings.TrimSpace(brand.WebsiteURL) == "" {
		return domain.TrackClickResponse{}, branddomain.ErrBrandMissingURL
	}

	userID := strings.TrimSpace(req.UserID)
	ip := strings.TrimSpace(req.IPAddress)

	if allowed, _ := s.limiter.Allow(ctx, userID, ip); !allowed {
		return domain.TrackClickResponse{}, domain.ErrClickRateLimited
	}

	now := s.clock.Now()

	if s.cfg.ClickDedupeWindow > 0 {
		existing, err := s.repo.FindRecent(ctx, s.db, domain.DuplicateFilter{
			BrandID:   brand.BrandID,
			IPAddress: ip,
			UserID:    userID,
			Since:     now.Add(-s.cfg.ClickDedupeWindow),
		})
		if err != nil {
			return domain.TrackClickResponse{}, err
		}
		if existing != nil {
			s.metrics.RecordClick(ctx, string(existing.Platform), true)
			return s.response(brand, *existing, true)
		}
	}

	click := domain.Click{
		ID:           s.genID.Generate(),
		ClickID:      domain.NewClickID(),
		BrandID:      brand.BrandID,
		BrandName:    brand.Name,
		SessionID:    strings.TrimSpace(req.SessionID),
		IPAddress:    ip,
		UserAgent:    strings.TrimSpace(req.UserAgent),
		Referrer:     strings.TrimSpace(req.Referrer),
		Platform:     platform,
		UTMSource:    firstNonEmpty(req.UTMSource, s.cfg.TrackingSource),
		UTMMedium:    firstNonEmpty(req.UTMMedium, s.cfg.TrackingMedium),
		UTMCampaign:  firstNonEmpty(req.UTMCampaign, slug.Make(brand.Name)),
		CashbackRate: brand.CashbackRate,
		MaxCashback:  brand.MaxCashback,
		Status:       domain.ClickStatusClicked,
		ClickedAt:    now,
		ExpiresAt:    now.Add(s.cfg.AttributionWindow),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if userID != "" {
		click.UserID = &userID
	}

	resp, err := s.response(brand, click, false)
	if err != nil {
		return domain.TrackClickResponse{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &click); err != nil {
		return domain.TrackClickResponse{}, err
	}

	s.brands.RecordClick(ctx, brand.BrandID)
	s.metrics.RecordClick(ctx, string(platform), false)
	if s.events != nil {
		s.events.Publish(ctx, events.New(events.ClickTracked, click.ClickID, now, map[string]any{
			"click_id": click.ClickID,
			"brand_id": click.BrandID,
			"user_id":  userID,
			"platform": string(platform),
		}))
	}

	s.log.Info("click.tracked",
		zap.String("click_id", click.ClickID),
		zap.String("brand_id", click.BrandID),
		zap.String("platform", string(platform)),
	)
	return resp, nil
}

func (s *Service) response(brand branddomain.Brand, click domain.Click, deduped bool) (domain.TrackClickResponse, error) {
	trackingURL, err := s.trackingURL(brand, click)
	if err != nil {
		return domain.TrackClickResponse{}, err
	}
	return domain.TrackClickResponse{
		ClickID:            click.ClickID,
		TrackingURL:        trackingURL,
		BrandName:          brand.Name,
		CashbackPercentage: click.CashbackRate,
		Deduplicated:       deduped,
	}, nil
}

// trackingURL appends attribution parameters to the brand URL, keeping any
// query it already carries. The UTM markers are always the platform's own;
// values sent by the caller are kept on the click record only.
func (s *Service) trackingURL(brand branddomain.Brand, click domain.Click) (string, error) {
	u, err := url.Parse(strings.TrimSpace(brand.WebsiteURL))
	if err != nil || u.Host == "" {
		return "", branddomain.ErrBrandMissingURL
	}

	q := u.Query()
	q.Set("ref", s.cfg.TrackingRef)
	q.Set("click_id", click.ClickID)
	if click.UserID != nil {
		q.Set("user_id", *click.UserID)
	}
	q.Set("utm_source", s.cfg.TrackingSource)
	q.Set("utm_medium", s.cfg.TrackingMedium)
	if campaign := slug.Make(brand.Name); campaign != "" {
		q.Set("utm_campaign", campaign)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Service) ListUserClicks(ctx context.Context, userID string, page pagination.Pagination) (domain.ListClicksResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ListClicksResponse{}, domain.ErrInvalidUserID
	}

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return domain.ListClicksResponse{}, err
	}

	limit := page.Limit()
	items, err := s.repo.ListByUser(ctx, s.db, userID, cursor, limit)
	if err != nil {
		return domain.ListClicksResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(c *domain.Click) pagination.Cursor {
		return pagination.Cursor{ID: int64(c.ID), CreatedAt: c.CreatedAt}
	})

	clicks := make([]domain.Click, 0, len(items))
	for _, item := range items {
		clicks = append(clicks, *item)
	}
	return domain.ListClicksResponse{PageInfo: pageInfo, Clicks: clicks}, nil
}

func (s *Service) CountUserClicks(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountByUser(ctx, s.db, strings.TrimSpace(userID))
}

func (s *Service) ValidateForConversion(ctx context.Context, clickID string) (domain.Click, error) {
	clickID = strings.TrimSpace(clickID)
	if clickID == "" {
		return domain.Click{}, domain.ErrInvalidClickID
	}

	click, err := s.repo.FindByClickID(ctx, s.db, clickID)
	if err != nil {
		return domain.Click{}, err
	}
	if click == nil {
		return domain.Click{}, domain.ErrClickNotFound
	}
	return *click, click.ConvertibleAt(s.clock.Now())
}

func (s *Service) ExpireClicks(ctx context.Context) (int64, error) {
	affected, err := s.repo.ExpireBefore(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire clicks: %w", err)
	}
	return affected, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
