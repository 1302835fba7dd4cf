package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeConversion Type = "conversion"
	TypeConfirm    Type = "confirm"
	TypeRefund     Type = "refund"
	TypeReject     Type = "reject"
)

func ParseType(raw string) (Type, bool) {
	switch t := Type(raw); t {
	case TypeConversion, TypeConfirm, TypeRefund, TypeReject:
		return t, true
	default:
		return "", false
	}
}

type Outcome string

const (
	OutcomeReceived     Outcome = "received"
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeRateLimited  Outcome = "rate_limited"
)

func ParseOutcome(raw string) (Outcome, bool) {
	switch o := Outcome(raw); o {
	case OutcomeReceived, OutcomeSuccess, OutcomeFailed, OutcomeDuplicate,
		OutcomeInvalid, OutcomeUnauthorized, OutcomeRateLimited:
		return o, true
	default:
		return "", false
	}
}

// WebhookLog is one inbound webhook attempt. It is inserted when the request
// arrives and completed once with the response.
type WebhookLog struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	WebhookType      Type              `gorm:"column:webhook_type" json:"webhook_type"`
	Endpoint         string            `gorm:"column:endpoint" json:"endpoint"`
	Method           string            `gorm:"column:method" json:"method"`
	Headers          datatypes.JSONMap `gorm:"column:headers" json:"headers"`
	Body             datatypes.JSON    `gorm:"column:body" json:"body"`
	Query            datatypes.JSONMap `gorm:"column:query" json:"query,omitempty"`
	SourceIP         string            `gorm:"column:source_ip" json:"source_ip"`
	UserAgent        string            `gorm:"column:user_agent" json:"user_agent"`
	BrandID          *string           `gorm:"column:brand_id" json:"brand_id,omitempty"`
	BrandName        *string           `gorm:"column:brand_name" json:"brand_name,omitempty"`
	Status           Outcome           `gorm:"column:status" json:"status"`
	ResponseStatus   *int              `gorm:"column:response_status" json:"response_status,omitempty"`
	ResponseBody     datatypes.JSON    `gorm:"column:response_body" json:"response_body,omitempty"`
	ProcessingTimeMS *int64            `gorm:"column:processing_time_ms" json:"processing_time_ms,omitempty"`
	ErrorMessage     *string           `gorm:"column:error_message" json:"error_message,omitempty"`
	ClickID          *string           `gorm:"column:click_id" json:"click_id,omitempty"`
	PurchaseID       *string           `gorm:"column:purchase_id" json:"purchase_id,omitempty"`
	CreatedAt        time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }
