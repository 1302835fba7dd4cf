package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/cashback/internal/analytics"
	analyticsdomain "github.com/smallbiznis/cashback/internal/analytics/domain"
	"github.com/smallbiznis/cashback/internal/authorization"
	"github.com/smallbiznis/cashback/internal/brand"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	"github.com/smallbiznis/cashback/internal/click"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/conversion"
	conversiondomain "github.com/smallbiznis/cashback/internal/conversion/domain"
	"github.com/smallbiznis/cashback/internal/events"
	"github.com/smallbiznis/cashback/internal/observability"
	obsmiddleware "github.com/smallbiznis/cashback/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	obstracing "github.com/smallbiznis/cashback/internal/observability/tracing"
	"github.com/smallbiznis/cashback/internal/purchase"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	"github.com/smallbiznis/cashback/internal/ratelimit"
	"github.com/smallbiznis/cashback/internal/scheduler"
	"github.com/smallbiznis/cashback/internal/wallet"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	"github.com/smallbiznis/cashback/internal/webhook"
	webhookdomain "github.com/smallbiznis/cashback/internal/webhook/domain"
	"github.com/smallbiznis/cashback/internal/webhooklog"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the affiliate HTTP API together with the domain services it
// fronts.
var Module = fx.Module("http.server",
	authorization.Module,
	events.Module,
	ratelimit.Module,
	brand.Module,
	click.Module,
	purchase.Module,
	conversion.Module,
	wallet.Module,
	webhooklog.Module,
	webhook.Module,
	analytics.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	registerFallbacks(r)

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	authzSvc       authorization.Service
	brands         branddomain.Service
	clicks         clickdomain.Service
	purchases      purchasedomain.Service
	conversions    conversiondomain.Service
	wallet         walletdomain.Service
	analytics      analyticsdomain.Service
	webhookLogs    webhooklogdomain.Service
	webhookAuth    webhookdomain.Authenticator
	idempotency    webhookdomain.IdempotencyStore
	webhookLimiter *ratelimit.WindowLimiter
	obsMetrics     *obsmetrics.Metrics
	scheduler      *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	AuthzSvc       authorization.Service
	Brands         branddomain.Service
	Clicks         clickdomain.Service
	Purchases      purchasedomain.Service
	Conversions    conversiondomain.Service
	Wallet         walletdomain.Service
	Analytics      analyticsdomain.Service
	WebhookLogs    webhooklogdomain.Service
	WebhookAuth    webhookdomain.Authenticator
	Idempotency    webhookdomain.IdempotencyStore
	WebhookLimiter *ratelimit.WindowLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics      `optional:"true"`
	Scheduler      *scheduler.Scheduler     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		authzSvc:       p.AuthzSvc,
		brands:         p.Brands,
		clicks:         p.Clicks,
		purchases:      p.Purchases,
		conversions:    p.Conversions,
		wallet:         p.Wallet,
		analytics:      p.Analytics,
		webhookLogs:    p.WebhookLogs,
		webhookAuth:    p.WebhookAuth,
		idempotency:    p.Idempotency,
		webhookLimiter: p.WebhookLimiter,
		obsMetrics:     p.ObsMetrics,
		scheduler:      p.Scheduler,
	}

	svc.registerWebhookRoutes()
	svc.registerAffiliateRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/api/v1/webhooks/affiliate")

	hooks.POST("/conversion", s.WebhookRateLimit(webhooklogdomain.TypeConversion), s.HandleConversionWebhook)
	hooks.POST("/confirm", s.WebhookRateLimit(webhooklogdomain.TypeConfirm), s.HandleConfirmWebhook)
	hooks.POST("/refund", s.WebhookRateLimit(webhooklogdomain.TypeRefund), s.HandleRefundWebhook)
	hooks.POST("/reject", s.WebhookRateLimit(webhooklogdomain.TypeReject), s.HandleRejectWebhook)
}

func (s *Server) registerAffiliateRoutes() {
	api := s.engine.Group("/api/v1/affiliate")

	api.POST("/click", s.UserAuthOptional(), s.TrackClick)

	user := api.Group("", s.UserAuthRequired())
	{
		user.GET("/clicks", s.ListUserClicks)
		user.GET("/purchases", s.ListUserPurchases)
		user.GET("/cashback-summary", s.GetCashbackSummary)
		user.GET("/wallet", s.GetWallet)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/v1/admin/affiliate")
	admin.Use(s.AdminAuthRequired())

	// -------- Purchases --------
	admin.POST("/purchases/:purchase_id/confirm", s.authorizeAdminAction(authorization.ObjectPurchase, authorization.ActionPurchaseConfirm), s.AdminConfirmPurchase)
	admin.POST("/purchases/:purchase_id/reject", s.authorizeAdminAction(authorization.ObjectPurchase, authorization.ActionPurchaseReject), s.AdminRejectPurchase)
	admin.POST("/purchases/:purchase_id/refund", s.authorizeAdminAction(authorization.ObjectPurchase, authorization.ActionPurchaseRefund), s.AdminRefundPurchase)

	// -------- Brands --------
	admin.GET("/brands/:brand_id/analytics", s.authorizeAdminAction(authorization.ObjectBrand, authorization.ActionBrandAnalyticsView), s.GetBrandAnalytics)
	admin.POST("/brands/:brand_id/webhook-key/rotate", s.authorizeAdminAction(authorization.ObjectBrand, authorization.ActionBrandKeyRotate), s.RotateBrandWebhookKey)

	// -------- Settlement jobs --------
	admin.GET("/jobs", s.authorizeAdminAction(authorization.ObjectJob, authorization.ActionJobRun), s.ListJobs)
	admin.POST("/jobs/:job/run", s.authorizeAdminAction(authorization.ObjectJob, authorization.ActionJobRun), s.RunJob)

	// -------- Webhook logs --------
	admin.GET("/webhook-logs", s.authorizeAdminAction(authorization.ObjectWebhookLog, authorization.ActionWebhookLogView), s.ListWebhookLogs)
}
