package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	conversiondomain "github.com/smallbiznis/cashback/internal/conversion/domain"
	obscontext "github.com/smallbiznis/cashback/internal/observability/context"
	"github.com/smallbiznis/cashback/internal/observability/logger"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	webhookdomain "github.com/smallbiznis/cashback/internal/webhook/domain"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"go.uber.org/zap"
)

const defaultWebhookBodyLimit = 1 << 20

type conversionResponse struct {
	PurchaseID     string          `json:"purchaseId"`
	Status         string          `json:"status"`
	CashbackAmount decimal.Decimal `json:"cashbackAmount"`
}

type statusChangeResponse struct {
	PurchaseID string `json:"purchaseId"`
	Status     string `json:"status"`
}

// webhookResult is what a webhook processor hands back to the pipeline.
type webhookResult struct {
	Message    string
	Data       any
	Duplicate  bool
	ClickID    string
	PurchaseID string
}

// webhookCall is one authenticated webhook request.
type webhookCall struct {
	Type     webhooklogdomain.Type
	Body     []byte
	Identity webhookdomain.Identity
	// IdempotencyID is the order or purchase id the response is cached under.
	IdempotencyID string
}

type webhookProcessor func(ctx context.Context, call *webhookCall) (webhookResult, error)

// webhookAttempt tracks the log entry of one webhook request.
type webhookAttempt struct {
	s       *Server
	c       *gin.Context
	logID   snowflake.ID
	started time.Time
	brandID string
	brand   string
}

// handleWebhook runs the shared pipeline: read body, log, authenticate,
// parse, answer from the idempotency cache or process, then complete the log.
func (s *Server) handleWebhook(webhookType webhooklogdomain.Type, parse func(*webhookCall) error, process webhookProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(logger.KeyWebhookType, string(webhookType))
		ctx := c.Request.Context()

		body, err := s.readWebhookBody(c)
		if err != nil {
			s.recordRejectedWebhook(ctx, c, webhookType, webhooklogdomain.OutcomeInvalid, err)
			s.failWebhook(c, nil, webhookType, webhooklogdomain.OutcomeInvalid, err)
			return
		}

		attempt := s.startWebhookAttempt(c, webhookType, body)

		identity, err := s.webhookAuth.Authenticate(ctx, webhookdomain.Credentials{
			APIKey:    strings.TrimSpace(c.GetHeader(webhookdomain.HeaderAPIKey)),
			Signature: strings.TrimSpace(c.GetHeader(webhookdomain.HeaderSignature)),
			BrandID:   strings.TrimSpace(c.GetHeader(webhookdomain.HeaderBrandID)),
			Body:      body,
		})
		if err != nil {
			logger.FromContext(ctx).Warn("webhook.auth.failed",
				zap.String("webhook_type", string(webhookType)),
				zap.Error(err),
			)
			s.failWebhook(c, attempt, webhookType, webhooklogdomain.OutcomeUnauthorized, err)
			return
		}
		if identity.Brand != nil {
			attempt.brandID = identity.Brand.BrandID
			attempt.brand = identity.Brand.Name
			ctx = obscontext.WithBrandID(ctx, identity.Brand.BrandID)
		}
		ctx = obscontext.WithActor(ctx, string(identity.Kind), identity.BrandID())
		c.Request = c.Request.WithContext(ctx)

		call := &webhookCall{Type: webhookType, Body: body, Identity: identity}
		if err := parse(call); err != nil {
			s.failWebhook(c, attempt, webhookType, webhooklogdomain.OutcomeInvalid, err)
			return
		}

		key := webhookdomain.IdempotencyKey(string(webhookType), call.IdempotencyID, identity.BrandID())
		if cached, ok := s.idempotency.Get(ctx, key); ok {
			s.completeWebhook(c, attempt, webhookType, webhooklogdomain.OutcomeDuplicate, http.StatusOK, s.replayWebhook(ctx, webhookType, cached))
			return
		}

		result, err := process(ctx, call)
		if err != nil {
			outcome := webhooklogdomain.OutcomeFailed
			if status, _, _ := mapError(err); status == http.StatusBadRequest {
				outcome = webhooklogdomain.OutcomeInvalid
			}
			s.failWebhook(c, attempt, webhookType, outcome, err)
			return
		}

		if encoded, err := json.Marshal(result.Data); err == nil {
			s.idempotency.Put(ctx, key, encoded)
		}

		outcome := webhooklogdomain.OutcomeSuccess
		if result.Duplicate {
			outcome = webhooklogdomain.OutcomeDuplicate
		}
		s.completeWebhook(c, attempt, webhookType, outcome, http.StatusOK, result)
	}
}

// replayWebhook answers a redelivery from the cached response, refreshed with
// the purchase as it is now so later status changes show through.
func (s *Server) replayWebhook(ctx context.Context, webhookType webhooklogdomain.Type, cached []byte) webhookResult {
	result := webhookResult{
		Message:   "webhook already processed",
		Data:      json.RawMessage(cached),
		Duplicate: true,
	}

	var ref struct {
		PurchaseID string `json:"purchaseId"`
	}
	if err := json.Unmarshal(cached, &ref); err != nil || ref.PurchaseID == "" {
		return result
	}
	purchase, err := s.purchases.Get(ctx, ref.PurchaseID)
	if err != nil {
		logger.FromContext(ctx).Warn("webhook.replay.purchase_unavailable",
			zap.String("purchase_id", ref.PurchaseID),
			zap.Error(err),
		)
		return result
	}

	result.ClickID = purchase.ClickID
	result.PurchaseID = purchase.PurchaseID
	if webhookType == webhooklogdomain.TypeConversion {
		result.Data = conversionResponse{
			PurchaseID:     purchase.PurchaseID,
			Status:         string(purchase.Status),
			CashbackAmount: purchase.ActualCashback,
		}
	} else {
		result.Data = statusChangeResponse{
			PurchaseID: purchase.PurchaseID,
			Status:     string(purchase.Status),
		}
	}
	return result
}

func (s *Server) readWebhookBody(c *gin.Context) ([]byte, error) {
	limit := s.cfg.Webhook.MaxBodyBytes
	if limit <= 0 {
		limit = defaultWebhookBodyLimit
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, invalidRequestError()
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func (s *Server) startWebhookAttempt(c *gin.Context, webhookType webhooklogdomain.Type, body []byte) *webhookAttempt {
	attempt := &webhookAttempt{s: s, c: c, started: time.Now()}
	if s.webhookLogs == nil {
		return attempt
	}
	id, err := s.webhookLogs.Start(c.Request.Context(), webhooklogdomain.StartRequest{
		Type:      webhookType,
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
		Headers:   c.Request.Header,
		Body:      body,
		Query:     c.Request.URL.Query(),
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("webhook.log.start_failed", zap.Error(err))
		return attempt
	}
	attempt.logID = id
	return attempt
}

func (a *webhookAttempt) complete(outcome webhooklogdomain.Outcome, status int, body []byte, errMsg string, result webhookResult) {
	if a == nil || a.logID == 0 || a.s.webhookLogs == nil {
		return
	}
	ctx := a.c.Request.Context()
	err := a.s.webhookLogs.Complete(ctx, a.logID, webhooklogdomain.CompleteRequest{
		Status:         outcome,
		ResponseStatus: status,
		ResponseBody:   body,
		ProcessingTime: time.Since(a.started),
		Error:          errMsg,
		BrandID:        a.brandID,
		BrandName:      a.brand,
		ClickID:        result.ClickID,
		PurchaseID:     result.PurchaseID,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("webhook.log.complete_failed", zap.Error(err))
	}
}

func (s *Server) completeWebhook(c *gin.Context, attempt *webhookAttempt, webhookType webhooklogdomain.Type, outcome webhooklogdomain.Outcome, status int, result webhookResult) {
	if result.ClickID != "" {
		c.Set(logger.KeyClickID, result.ClickID)
	}
	if result.PurchaseID != "" {
		c.Set(logger.KeyPurchaseID, result.PurchaseID)
	}

	resp := envelope{Success: true, Message: result.Message, Data: result.Data}
	encoded, _ := json.Marshal(resp)
	attempt.complete(outcome, status, encoded, "", result)
	s.obsMetrics.RecordWebhook(c.Request.Context(), string(webhookType), string(outcome))

	c.JSON(status, resp)
}

func (s *Server) failWebhook(c *gin.Context, attempt *webhookAttempt, webhookType webhooklogdomain.Type, outcome webhooklogdomain.Outcome, err error) {
	status, message, payload := mapError(err)
	resp := envelope{Success: false, Message: message, Error: &payload}
	encoded, _ := json.Marshal(resp)
	attempt.complete(outcome, status, encoded, err.Error(), webhookResult{})
	s.obsMetrics.RecordWebhook(c.Request.Context(), string(webhookType), string(outcome))

	// webhook callers always get JSON
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func (s *Server) HandleConversionWebhook(c *gin.Context) {
	var input conversionInput
	parse := func(call *webhookCall) error {
		var payload conversionPayload
		if err := json.Unmarshal(call.Body, &payload); err != nil {
			return invalidRequestError()
		}
		input = payload.normalize()
		if input.ClickID == "" {
			return newValidationError("click_id", "required", "click_id is required")
		}
		if input.OrderID == "" {
			return newValidationError("order_id", "required", "order_id is required")
		}
		if !input.OrderAmount.Valid {
			return newValidationError("order_amount", "required", "order_amount is required")
		}
		call.IdempotencyID = input.OrderID
		if call.Identity.Kind == webhookdomain.IdentityMaster {
			// the master key carries no brand; order ids are only unique per brand
			call.IdempotencyID = input.ClickID + "/" + input.OrderID
		}
		return nil
	}

	process := func(ctx context.Context, call *webhookCall) (webhookResult, error) {
		res, err := s.conversions.ProcessConversion(ctx, conversiondomain.ProcessConversionRequest{
			ClickID:              input.ClickID,
			ExternalOrderID:      input.OrderID,
			OrderAmount:          input.OrderAmount.Decimal,
			Currency:             input.Currency,
			Status:               input.Status,
			PurchasedAt:          input.PurchasedAt,
			AuthenticatedBrandID: call.Identity.BrandID(),
			RawPayload:           json.RawMessage(call.Body),
		})
		if err != nil {
			return webhookResult{}, err
		}

		message := "conversion recorded"
		if res.Duplicate {
			message = "conversion already recorded"
		}
		return webhookResult{
			Message:   message,
			Duplicate: res.Duplicate,
			Data: conversionResponse{
				PurchaseID:     res.Purchase.PurchaseID,
				Status:         string(res.Purchase.Status),
				CashbackAmount: res.Purchase.ActualCashback,
			},
			ClickID:    res.Purchase.ClickID,
			PurchaseID: res.Purchase.PurchaseID,
		}, nil
	}

	s.handleWebhook(webhooklogdomain.TypeConversion, parse, process)(c)
}

type statusChangeFunc func(ctx context.Context, purchaseID, reason string, actor purchasedomain.Actor) (purchasedomain.Purchase, error)

func (s *Server) HandleConfirmWebhook(c *gin.Context) {
	s.handleStatusChangeWebhook(c, webhooklogdomain.TypeConfirm, "purchase confirmed", false, s.purchases.Confirm)
}

func (s *Server) HandleRefundWebhook(c *gin.Context) {
	s.handleStatusChangeWebhook(c, webhooklogdomain.TypeRefund, "purchase refunded", true, s.purchases.Refund)
}

func (s *Server) HandleRejectWebhook(c *gin.Context) {
	s.handleStatusChangeWebhook(c, webhooklogdomain.TypeReject, "purchase rejected", true, s.purchases.Reject)
}

func (s *Server) handleStatusChangeWebhook(c *gin.Context, webhookType webhooklogdomain.Type, message string, reasonRequired bool, change statusChangeFunc) {
	var input statusChangeInput
	parse := func(call *webhookCall) error {
		var payload statusChangePayload
		if err := json.Unmarshal(call.Body, &payload); err != nil {
			return invalidRequestError()
		}
		input = payload.normalize()
		if input.PurchaseID == "" {
			return newValidationError("purchase_id", "required", "purchase_id is required")
		}
		if reasonRequired && input.Reason == "" {
			return purchasedomain.ErrMissingReason
		}
		call.IdempotencyID = input.PurchaseID
		return nil
	}

	process := func(ctx context.Context, call *webhookCall) (webhookResult, error) {
		if err := s.ensurePurchaseOwner(ctx, call.Identity, input.PurchaseID); err != nil {
			return webhookResult{}, err
		}
		updated, err := change(ctx, input.PurchaseID, input.Reason, call.Identity.Actor())
		if err != nil {
			return webhookResult{}, err
		}
		return webhookResult{
			Message: message,
			Data: statusChangeResponse{
				PurchaseID: updated.PurchaseID,
				Status:     string(updated.Status),
			},
			ClickID:    updated.ClickID,
			PurchaseID: updated.PurchaseID,
		}, nil
	}

	s.handleWebhook(webhookType, parse, process)(c)
}

// ensurePurchaseOwner hides purchases of other brands from a brand caller.
// The master key may act on any purchase.
func (s *Server) ensurePurchaseOwner(ctx context.Context, identity webhookdomain.Identity, purchaseID string) error {
	if identity.Kind == webhookdomain.IdentityMaster {
		return nil
	}
	purchase, err := s.purchases.Get(ctx, purchaseID)
	if err != nil {
		return err
	}
	if purchase.BrandID != identity.BrandID() {
		logger.FromContext(ctx).Warn("webhook.purchase.brand_mismatch",
			zap.String("purchase_id", purchaseID),
			zap.String("purchase_brand_id", purchase.BrandID),
		)
		return purchasedomain.ErrPurchaseNotFound
	}
	return nil
}
