package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/cashback/internal/clock"
	"gorm.io/gorm"
)

const maxOutboxErrorLen = 512

// Outbox stores events in the transaction that produced them. Rows stay
// pending until a sink accepts the event, so a full queue, a failing broker
// or a crash only delays delivery.
type Outbox struct {
	db    *gorm.DB
	clock clock.Clock
}

type outboxRow struct {
	EventID string `gorm:"column:event_id"`
	Body    string `gorm:"column:body"`
}

func NewOutbox(db *gorm.DB, clk clock.Clock) *Outbox {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Outbox{db: db, clock: clk}
}

// Add writes evs through tx and marks each one durable in place. A nil
// outbox accepts nothing and leaves the events untouched.
func (o *Outbox) Add(ctx context.Context, tx *gorm.DB, evs []Event) error {
	if o == nil || len(evs) == 0 {
		return nil
	}
	now := o.clock.Now()
	for i := range evs {
		body, err := evs[i].Marshal()
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO event_outbox (event_id, event_type, event_key, body, attempts, created_at)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			evs[i].ID, string(evs[i].Type), evs[i].Key, string(body), now,
		).Error; err != nil {
			return err
		}
		evs[i].Durable = true
	}
	return nil
}

func (o *Outbox) MarkDelivered(ctx context.Context, eventID string) error {
	return o.db.WithContext(ctx).Exec(
		`UPDATE event_outbox SET delivered_at = ? WHERE event_id = ? AND delivered_at IS NULL`,
		o.clock.Now(), eventID,
	).Error
}

func (o *Outbox) MarkFailed(ctx context.Context, eventID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxOutboxErrorLen {
		msg = msg[:maxOutboxErrorLen]
	}
	return o.db.WithContext(ctx).Exec(
		`UPDATE event_outbox SET attempts = attempts + 1, last_error = ? WHERE event_id = ? AND delivered_at IS NULL`,
		msg, eventID,
	).Error
}

// Pending returns undelivered events written at or before cutoff, oldest
// first.
func (o *Outbox) Pending(ctx context.Context, cutoff time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxRow
	if err := o.db.WithContext(ctx).Raw(
		`SELECT event_id, body FROM event_outbox
		 WHERE delivered_at IS NULL AND created_at <= ?
		 ORDER BY created_at ASC, event_id ASC
		 LIMIT ?`,
		cutoff, limit,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		var event Event
		if err := json.Unmarshal([]byte(row.Body), &event); err != nil {
			// skipped, with the decode error kept on the row
			_ = o.MarkFailed(ctx, row.EventID, err)
			continue
		}
		event.Durable = true
		out = append(out, event)
	}
	return out, nil
}
