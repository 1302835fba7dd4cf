package domain

import (
	"context"
	"strings"
)

// IdempotencyStore remembers the response data of processed webhooks so a
// redelivery can be answered without reprocessing.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, data []byte)
}

// IdempotencyKey identifies one webhook by type, order or purchase id and the
// authenticated brand.
func IdempotencyKey(webhookType, id, brandID string) string {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		brandID = string(IdentityMaster)
	}
	return "webhook_idem:" + strings.TrimSpace(webhookType) + ":" + strings.TrimSpace(id) + ":" + brandID
}
