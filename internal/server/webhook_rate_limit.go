package server

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/cashback/internal/webhook/domain"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"go.uber.org/zap"
)

const (
	rateLimitReasonWebhookWindow = "webhook-window"
	maxRateLimitBrandLen         = 64
)

// WebhookRateLimit counts requests per source IP and brand before any
// credential is checked. The limiter fails open when Redis is unavailable.
func (s *Server) WebhookRateLimit(webhookType webhooklogdomain.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhookLimiter == nil || !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		subject := rateLimitSubject(c)

		res := s.webhookLimiter.Allow(ctx, "webhook:"+subject)
		if res.Degraded {
			logger.FromContext(ctx).Warn("webhook.rate_limit.degraded", zap.String("endpoint", endpoint))
		}
		if !res.Allowed {
			s.denyWebhookRateLimit(c, webhookType, endpoint, res.RetryAfter)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func (s *Server) denyWebhookRateLimit(c *gin.Context, webhookType webhooklogdomain.Type, endpoint string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("webhook.rate_limit.exceeded",
		zap.String("reason", rateLimitReasonWebhookWindow),
		zap.String("endpoint", endpoint),
		zap.String("webhook_type", string(webhookType)),
	)
	recordRateLimitDenied(ctx, endpoint, rateLimitReasonWebhookWindow, s.obsMetrics)
	s.recordRejectedWebhook(ctx, c, webhookType, webhooklogdomain.OutcomeRateLimited, ErrRateLimited)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhook(ctx, string(webhookType), string(webhooklogdomain.OutcomeRateLimited))
	}

	c.Header("Retry-After", retryAfterSeconds(retryAfter))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonWebhookWindow)
	AbortWithError(c, ErrRateLimited)
}

// recordRejectedWebhook logs an attempt that never reached the handler.
func (s *Server) recordRejectedWebhook(ctx context.Context, c *gin.Context, webhookType webhooklogdomain.Type, outcome webhooklogdomain.Outcome, cause error) {
	if s.webhookLogs == nil {
		return
	}
	id, err := s.webhookLogs.Start(ctx, webhooklogdomain.StartRequest{
		Type:      webhookType,
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
		Headers:   c.Request.Header,
		Query:     c.Request.URL.Query(),
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		logger.FromContext(ctx).Warn("webhook.log.start_failed", zap.Error(err))
		return
	}
	status, _, _ := mapError(cause)
	if err := s.webhookLogs.Complete(ctx, id, webhooklogdomain.CompleteRequest{
		Status:         outcome,
		ResponseStatus: status,
		Error:          cause.Error(),
	}); err != nil {
		logger.FromContext(ctx).Warn("webhook.log.complete_failed", zap.Error(err))
	}
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

// rateLimitSubject keys the window on the source IP and the claimed brand,
// so rotating API keys from one address shares a single counter.
func rateLimitSubject(c *gin.Context) string {
	brandID := strings.TrimSpace(c.GetHeader(webhookdomain.HeaderBrandID))
	if brandID == "" {
		brandID = "unknown"
	}
	if len(brandID) > maxRateLimitBrandLen {
		brandID = brandID[:maxRateLimitBrandLen]
	}
	return "ip:" + c.ClientIP() + ":brand:" + brandID
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
