package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/cashback/internal/analytics/domain"
	"github.com/smallbiznis/cashback/internal/authorization"
	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	clickdomain "github.com/smallbiznis/cashback/internal/click/domain"
	conversiondomain "github.com/smallbiznis/cashback/internal/conversion/domain"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
	"github.com/smallbiznis/cashback/internal/scheduler"
	walletdomain "github.com/smallbiznis/cashback/internal/wallet/domain"
	webhookdomain "github.com/smallbiznis/cashback/internal/webhook/domain"
	webhooklogdomain "github.com/smallbiznis/cashback/internal/webhooklog/domain"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type   string            `json:"type"`
	Code   string            `json:"code"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// envelope is the body of every affiliate endpoint response.
type envelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    any           `json:"data,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, message, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, envelope{Success: false, Message: message, Error: &payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, string, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, "internal server error", errorPayload{
			Type: "internal_error",
			Code: "internal_error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		code := "invalid_request"
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return http.StatusBadRequest, "validation error", errorPayload{
			Type:   "validation_error",
			Code:   code,
			Errors: vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := codeOf(err, "invalid_request")
		return http.StatusBadRequest, validationErrorMessage(code), errorPayload{
			Type: "validation_error",
			Code: code,
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isAuthenticationError(err):
		return http.StatusUnauthorized, "unauthorized", errorPayload{
			Type: "authentication_error",
			Code: codeOf(err, "unauthorized"),
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole),
		errors.Is(err, purchasedomain.ErrActorNotAllowed):
		return http.StatusForbidden, "forbidden", errorPayload{
			Type: "forbidden",
			Code: codeOf(err, "forbidden"),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, "not found", errorPayload{
			Type: "not_found",
			Code: codeOf(err, "not_found"),
		}
	case errors.Is(err, purchasedomain.ErrInvalidTransition),
		errors.Is(err, purchasedomain.ErrConcurrentUpdate),
		errors.Is(err, scheduler.ErrJobLocked):
		return http.StatusConflict, "invalid state transition", errorPayload{
			Type: "invalid_transition",
			Code: codeOf(err, "conflict"),
		}
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, clickdomain.ErrClickRateLimited):
		return http.StatusTooManyRequests, "too many requests", errorPayload{
			Type: "rate_limited",
			Code: codeOf(err, "rate_limited"),
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload too large", errorPayload{
			Type: "validation_error",
			Code: ErrPayloadTooLarge.Error(),
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service unavailable", errorPayload{
			Type: "service_unavailable",
			Code: "service_unavailable",
		}
	default:
		return http.StatusInternalServerError, "internal server error", errorPayload{
			Type: "internal_error",
			Code: "internal_error",
		}
	}
}

// classifyErrorForLog reports the error type and code written to the request
// log line.
func classifyErrorForLog(err error) (string, string) {
	_, _, payload := mapError(err)
	return payload.Type, payload.Code
}

// codeOf returns the innermost error text when it reads like a code,
// fallback otherwise.
func codeOf(err error, fallback string) string {
	inner := err
	for next := errors.Unwrap(inner); next != nil; next = errors.Unwrap(inner) {
		inner = next
	}
	text := strings.TrimSpace(inner.Error())
	if text == "" || strings.ContainsAny(text, " :") {
		return fallback
	}
	return text
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isAuthenticationError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, webhookdomain.ErrInvalidAPIKey),
		errors.Is(err, webhookdomain.ErrMissingSignature),
		errors.Is(err, webhookdomain.ErrInvalidSignature),
		errors.Is(err, webhookdomain.ErrSecretNotConfigured),
		errors.Is(err, authorization.ErrInvalidActor):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	case errors.Is(err, conversiondomain.ErrInvalidAmount),
		errors.Is(err, conversiondomain.ErrInvalidOrderID),
		errors.Is(err, conversiondomain.ErrInvalidCashbackRate),
		errors.Is(err, conversiondomain.ErrInvalidStatus),
		errors.Is(err, conversiondomain.ErrAttributionMismatch):
		return true
	case errors.Is(err, clickdomain.ErrInvalidClickID),
		errors.Is(err, clickdomain.ErrInvalidUserID),
		errors.Is(err, clickdomain.ErrInvalidPlatform),
		errors.Is(err, clickdomain.ErrClickAlreadyConverted),
		errors.Is(err, clickdomain.ErrClickExpired):
		return true
	case errors.Is(err, purchasedomain.ErrInvalidPurchaseID),
		errors.Is(err, purchasedomain.ErrInvalidStatus),
		errors.Is(err, purchasedomain.ErrMissingReason):
		return true
	case errors.Is(err, branddomain.ErrInvalidBrandID),
		errors.Is(err, branddomain.ErrBrandInactive),
		errors.Is(err, branddomain.ErrBrandMissingURL):
		return true
	case errors.Is(err, walletdomain.ErrInvalidUserID),
		errors.Is(err, analyticsdomain.ErrInvalidRange),
		errors.Is(err, webhooklogdomain.ErrInvalidType),
		errors.Is(err, webhooklogdomain.ErrInvalidOutcome),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, branddomain.ErrBrandNotFound),
		errors.Is(err, clickdomain.ErrClickNotFound),
		errors.Is(err, purchasedomain.ErrPurchaseNotFound),
		errors.Is(err, webhooklogdomain.ErrLogNotFound),
		errors.Is(err, scheduler.ErrUnknownJob),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "":
		return "invalid value"
	default:
		return strings.ReplaceAll(code, "_", " ")
	}
}
