package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ClickTracked             Type = "click.tracked"
	PurchaseCreated          Type = "purchase.created"
	PurchaseStatusChanged    Type = "purchase.status_changed"
	CashbackCredited         Type = "cashback.credited"
	CashbackReversalRequired Type = "cashback.reversal_required"
)

// Event is a notification for downstream consumers. ID is stable across
// redeliveries so consumers can dedupe.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Key        string         `json:"key"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`

	// Durable is set once the event is stored in the outbox.
	Durable bool `json:"-"`
}

func New(eventType Type, key string, occurredAt time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink delivers a single event to its destination.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Close() error
}
