package server

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// flexString accepts a JSON string or number. Affiliate networks send order
// ids both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Each payload carries both spellings of every field; the snake_case value
// wins when both are present.

type conversionPayload struct {
	ClickID        flexString          `json:"click_id"`
	ClickIDAlt     flexString          `json:"clickId"`
	OrderID        flexString          `json:"order_id"`
	OrderIDAlt     flexString          `json:"orderId"`
	OrderAmount    decimal.NullDecimal `json:"order_amount"`
	OrderAmountAlt decimal.NullDecimal `json:"orderAmount"`
	Currency       string              `json:"currency"`
	Status         string              `json:"status"`
	PurchasedAt    *time.Time          `json:"purchased_at"`
	PurchasedAtAlt *time.Time          `json:"purchasedAt"`
}

type conversionInput struct {
	ClickID     string
	OrderID     string
	OrderAmount decimal.NullDecimal
	Currency    string
	Status      string
	PurchasedAt *time.Time
}

func (p conversionPayload) normalize() conversionInput {
	in := conversionInput{
		ClickID:     firstNonEmpty(p.ClickID, p.ClickIDAlt),
		OrderID:     firstNonEmpty(p.OrderID, p.OrderIDAlt),
		OrderAmount: p.OrderAmount,
		Currency:    strings.ToUpper(strings.TrimSpace(p.Currency)),
		Status:      strings.ToLower(strings.TrimSpace(p.Status)),
		PurchasedAt: p.PurchasedAt,
	}
	if !in.OrderAmount.Valid {
		in.OrderAmount = p.OrderAmountAlt
	}
	if in.PurchasedAt == nil {
		in.PurchasedAt = p.PurchasedAtAlt
	}
	return in
}

type statusChangePayload struct {
	PurchaseID    flexString `json:"purchase_id"`
	PurchaseIDAlt flexString `json:"purchaseId"`
	Reason        string     `json:"reason"`
}

type statusChangeInput struct {
	PurchaseID string
	Reason     string
}

func (p statusChangePayload) normalize() statusChangeInput {
	return statusChangeInput{
		PurchaseID: firstNonEmpty(p.PurchaseID, p.PurchaseIDAlt),
		Reason:     strings.TrimSpace(p.Reason),
	}
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}
