package domain

import "context"

const (
	JobCreditPendingCashback = "credit_pending_cashback"
	JobExpireClicks          = "expire_clicks"
	JobPurgeWebhookLogs      = "purge_webhook_logs"
)

// CreditResult summarizes one settlement run. Total counts every purchase the
// run picked up, including claims lost to a concurrent runner (Skipped).
type CreditResult struct {
	Credited int `json:"credited"`
	Total    int `json:"total"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Released int `json:"released"`
}

type Service interface {
	// CreditPendingCashback credits the wallet for every confirmed purchase
	// whose verification period has elapsed.
	CreditPendingCashback(ctx context.Context) (CreditResult, error)
	ExpireClicks(ctx context.Context) (int64, error)
	PurgeWebhookLogs(ctx context.Context) (int64, error)
}
