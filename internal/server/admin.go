package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/cashback/internal/analytics/domain"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"go.uber.org/zap"
)

type adminStatusChangeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) AdminConfirmPurchase(c *gin.Context) {
	s.adminStatusChange(c, "purchase confirmed", s.purchases.Confirm)
}

func (s *Server) AdminRejectPurchase(c *gin.Context) {
	s.adminStatusChange(c, "purchase rejected", s.purchases.Reject)
}

func (s *Server) AdminRefundPurchase(c *gin.Context) {
	s.adminStatusChange(c, "purchase refunded", s.purchases.Refund)
}

func (s *Server) adminStatusChange(c *gin.Context, message string, change statusChangeFunc) {
	purchaseID := strings.TrimSpace(c.Param("purchase_id"))
	if purchaseID == "" {
		AbortWithError(c, purchasedomain.ErrInvalidPurchaseID)
		return
	}

	var req adminStatusChangeRequest
	// the body is optional; confirm needs no reason
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set(logger.KeyPurchaseID, purchaseID)
	updated, err := change(c.Request.Context(), purchaseID, strings.TrimSpace(req.Reason), purchasedomain.ActorAdmin)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if actor, ok := actorFromContext(c); ok {
		logger.FromContext(c.Request.Context()).Info("admin.purchase.status_changed",
			zap.String("purchase_id", updated.PurchaseID),
			zap.String("status", string(updated.Status)),
			zap.String("actor", actor.subject()),
		)
	}
	respond(c, http.StatusOK, message, statusChangeResponse{
		PurchaseID: updated.PurchaseID,
		Status:     string(updated.Status),
	})
}

func (s *Server) GetBrandAnalytics(c *gin.Context) {
	start, err := parseOptionalTime(c.Query("start"), false)
	if err != nil {
		AbortWithError(c, analyticsdomain.ErrInvalidRange)
		return
	}
	end, err := parseOptionalTime(c.Query("end"), true)
	if err != nil {
		AbortWithError(c, analyticsdomain.ErrInvalidRange)
		return
	}

	report, err := s.analytics.BrandAnalytics(c.Request.Context(), analyticsdomain.BrandAnalyticsRequest{
		BrandID: strings.TrimSpace(c.Param("brand_id")),
		Start:   start,
		End:     end,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "brand analytics", report)
}

type rotateWebhookKeyResponse struct {
	BrandID string `json:"brandId"`
	APIKey  string `json:"apiKey"`
}

func (s *Server) RotateBrandWebhookKey(c *gin.Context) {
	brandID := strings.TrimSpace(c.Param("brand_id"))
	key, err := s.brands.RotateWebhookKey(c.Request.Context(), brandID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// the raw key is only ever returned here
	c.Header("Cache-Control", "no-store")
	respond(c, http.StatusOK, "webhook key rotated", rotateWebhookKeyResponse{
		BrandID: brandID,
		APIKey:  key,
	})
}

func (s *Server) ListJobs(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	respond(c, http.StatusOK, "jobs", gin.H{"jobs": s.scheduler.Jobs()})
}

// RunJob triggers a settlement job now. The job still takes its distributed
// lock, so a run already in progress elsewhere answers 409.
func (s *Server) RunJob(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	job := strings.TrimSpace(c.Param("job"))
	report, err := s.scheduler.RunOnce(c.Request.Context(), job)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "job finished", report)
}

func (s *Server) ListWebhookLogs(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.webhookLogs.List(c.Request.Context(), webhooklogdomain.ListRequest{
		Pagination: page,
		Type:       strings.TrimSpace(c.Query("type")),
		Status:     strings.TrimSpace(c.Query("status")),
		BrandID:    strings.TrimSpace(c.Query("brand_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "webhook logs", resp)
}
