package domain

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
)

type StartRequest struct {
	Type      Type
	Endpoint  string
	Method    string
	Headers   http.Header
	Body      []byte
	Query     url.Values
	SourceIP  string
	UserAgent string
}

type CompleteRequest struct {
	Status         Outcome
	ResponseStatus int
	ResponseBody   []byte
	ProcessingTime time.Duration
	Error          string
	BrandID        string
	BrandName      string
	ClickID        string
	PurchaseID     string
}

type ListRequest struct {
	pagination.Pagination
	Type    string
	Status  string
	BrandID string
}

type ListResponse struct {
	pagination.PageInfo
	WebhookLogs []WebhookLog `json:"webhook_logs"`
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (snowflake.ID, error)
	Complete(ctx context.Context, id snowflake.ID, req CompleteRequest) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// Purge deletes entries older than the retention period.
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

var (
	ErrInvalidType      = errors.New("invalid_webhook_type")
	ErrInvalidOutcome   = errors.New("invalid_webhook_outcome")
	ErrLogNotFound      = errors.New("webhook_log_not_found")
	ErrInvalidRetention = errors.New("invalid_retention")
)
