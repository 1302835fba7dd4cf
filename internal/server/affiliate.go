package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	obsmiddleware "github.com/smallbiznis/cashback/internal/observability/logger"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
)

type trackClickRequest struct {
	BrandID        string `json:"brand_id"`
	BrandIDAlt     string `json:"brandId"`
	SessionID      string `json:"session_id"`
	SessionIDAlt   string `json:"sessionId"`
	Platform       string `json:"platform"`
	Referrer       string `json:"referrer"`
	UTMSource      string `json:"utm_source"`
	UTMSourceAlt   string `json:"utmSource"`
	UTMMedium      string `json:"utm_medium"`
	UTMMediumAlt   string `json:"utmMedium"`
	UTMCampaign    string `json:"utm_campaign"`
	UTMCampaignAlt string `json:"utmCampaign"`
}

func (s *Server) TrackClick(c *gin.Context) {
	var req trackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	brandID := pick(req.BrandID, req.BrandIDAlt)
	if brandID == "" {
		AbortWithError(c, newValidationError("brand_id", "required", "brand_id is required"))
		return
	}

	referrer := strings.TrimSpace(req.Referrer)
	if referrer == "" {
		referrer = c.GetHeader("Referer")
	}

	resp, err := s.clicks.TrackClick(c.Request.Context(), clickdomain.TrackClickRequest{
		BrandID:     brandID,
		UserID:      userIDFromContext(c),
		SessionID:   pick(req.SessionID, req.SessionIDAlt),
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Referrer:    referrer,
		Platform:    strings.TrimSpace(req.Platform),
		UTMSource:   pick(req.UTMSource, req.UTMSourceAlt),
		UTMMedium:   pick(req.UTMMedium, req.UTMMediumAlt),
		UTMCampaign: pick(req.UTMCampaign, req.UTMCampaignAlt),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(obsmiddleware.KeyClickID, resp.ClickID)
	status := http.StatusCreated
	if resp.Deduplicated {
		status = http.StatusOK
	}
	respond(c, status, "click tracked", resp)
}

func (s *Server) ListUserClicks(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.clicks.ListUserClicks(c.Request.Context(), userIDFromContext(c), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "clicks", resp)
}

func (s *Server) ListUserPurchases(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.purchases.ListUserPurchases(c.Request.Context(), purchasedomain.ListPurchasesRequest{
		UserID:     userIDFromContext(c),
		Status:     strings.TrimSpace(c.Query("status")),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "purchases", resp)
}

func (s *Server) GetCashbackSummary(c *gin.Context) {
	summary, err := s.purchases.CashbackSummary(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "cashback summary", summary)
}

func (s *Server) GetWallet(c *gin.Context) {
	wallet, err := s.wallet.GetBalance(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, "wallet", wallet)
}

func pick(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
