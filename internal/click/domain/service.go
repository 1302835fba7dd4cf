package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cashback/pkg/db/pagination"
)

type TrackClickRequest struct {
	BrandID     string
	UserID      string
	SessionID   string
	IPAddress   string
	UserAgent   string
	Referrer    string
	Platform    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
}

type TrackClickResponse struct {
	ClickID            string          `json:"clickId"`
	TrackingURL        string          `json:"trackingUrl"`
	BrandName          string          `json:"brandName"`
	CashbackPercentage decimal.Decimal `json:"cashbackPercentage"`
	Deduplicated       bool            `json:"deduplicated,omitempty"`
}

type ListClicksResponse struct {
	pagination.PageInfo
	Clicks []Click `json:"clicks"`
}

type Service interface {
	TrackClick(ctx context.Context, req TrackClickRequest) (TrackClickResponse, error)
	ListUserClicks(ctx context.Context, userID string, page pagination.Pagination) (ListClicksResponse, error)
	CountUserClicks(ctx context.Context, userID string) (int64, error)
	// ValidateForConversion checks that the click can still be attributed.
	// A click that exists is returned even alongside ErrClickAlreadyConverted
	// or ErrClickExpired, so a redelivered conversion can still be resolved.
	ValidateForConversion(ctx context.Context, clickID string) (Click, error)
	ExpireClicks(ctx context.Context) (int64, error)
}

var (
	ErrInvalidClickID        = errors.New("invalid_click_id")
	ErrInvalidUserID         = errors.New("invalid_user_id")
	ErrInvalidPlatform       = errors.New("invalid_platform")
	ErrClickNotFound         = errors.New("click_not_found")
	ErrClickAlreadyConverted = errors.New("click_already_converted")
	ErrClickExpired          = errors.New("click_expired")
	ErrClickRateLimited      = errors.New("click_rate_limited")
)
