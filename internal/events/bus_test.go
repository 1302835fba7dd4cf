package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingSink struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	delivered []Event
	closed    bool
}

func (s *recordingSink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("broker unavailable")
	}
	s.delivered = append(s.delivered, event)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.delivered...)
}

func newTestBus(sink Sink, size, attempts int) *Bus {
	cfg := config.Config{Events: config.EventsConfig{BufferSize: size, MaxAttempts: attempts}}
	return NewBus(Params{Config: cfg, Sink: sink, Log: zap.NewNop()})
}

func TestBus_DeliversInOrderAndDrainsOnStop(t *testing.T) {
	sink := &recordingSink{}
	bus := newTestBus(sink, 16, 1)
	bus.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		bus.Publish(ctx, New(ClickTracked, "clk", time.Now(), map[string]any{"n": i}))
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(stopCtx))

	got := sink.snapshot()
	require.Len(t, got, 5)
	for i, event := range got {
		assert.Equal(t, i, event.Payload["n"])
	}
	assert.True(t, sink.closed)
}

func TestBus_RetriesUntilDelivered(t *testing.T) {
	sink := &recordingSink{failFirst: 2}
	bus := newTestBus(sink, 4, 3)
	bus.Start()

	event := New(CashbackCredited, "pur_1", time.Now(), nil)
	bus.Publish(context.Background(), event)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(stopCtx))

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].ID)
	assert.Equal(t, 3, sink.calls)
}

func TestBus_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{}
	bus := newTestBus(sink, 1, 1)

	ctx := context.Background()
	bus.Publish(ctx, New(ClickTracked, "a", time.Now(), nil))
	bus.Publish(ctx, New(ClickTracked, "b", time.Now(), nil))

	assert.Len(t, bus.queue, 1)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(context.Background(), New(ClickTracked, "a", time.Now(), nil))
}

func newOutboxBus(t *testing.T, sink Sink, size int) (*Bus, *Outbox, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	outbox := NewOutbox(db, clk)
	cfg := config.Config{Events: config.EventsConfig{BufferSize: size, MaxAttempts: 1, RelayInterval: time.Minute}}
	bus := NewBus(Params{Config: cfg, Sink: sink, Log: zap.NewNop(), Outbox: outbox, Clock: clk})
	return bus, outbox, db, clk
}

func TestOutbox_RelayDeliversPendingOnce(t *testing.T) {
	sink := &recordingSink{}
	bus, outbox, db, clk := newOutboxBus(t, sink, 4)
	ctx := context.Background()

	evs := []Event{New(CashbackReversalRequired, "pur_1", clk.Now(), map[string]any{"amount": "42.50"})}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return outbox.Add(ctx, tx, evs)
	}))
	assert.True(t, evs[0].Durable)

	// the in-memory path gets one interval first
	n, err := bus.Relay(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(time.Minute)
	n, err = bus.Relay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, evs[0].ID, got[0].ID)
	assert.Equal(t, CashbackReversalRequired, got[0].Type)
	assert.Equal(t, "42.50", got[0].Payload["amount"])

	n, err = bus.Relay(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutbox_RolledBackEventsAreNotStored(t *testing.T) {
	sink := &recordingSink{}
	bus, outbox, db, clk := newOutboxBus(t, sink, 4)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.Add(ctx, tx, []Event{New(PurchaseStatusChanged, "pur_1", clk.Now(), nil)}); err != nil {
			return err
		}
		return errors.New("status update lost")
	})
	require.Error(t, err)

	clk.Advance(time.Hour)
	n, err := bus.Relay(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBus_DurableEventsSurviveFullQueueAndFailingSink(t *testing.T) {
	sink := &recordingSink{failFirst: 1}
	bus, outbox, db, clk := newOutboxBus(t, sink, 1)
	ctx := context.Background()

	var evs []Event
	for _, key := range []string{"pur_1", "pur_2"} {
		batch := []Event{New(CashbackReversalRequired, key, clk.Now(), nil)}
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return outbox.Add(ctx, tx, batch)
		}))
		evs = append(evs, batch...)
		clk.Advance(time.Second)
	}
	for _, ev := range evs {
		bus.Publish(ctx, ev)
	}
	require.Len(t, bus.queue, 1)

	// first pass: the sink rejects pur_1 and accepts pur_2
	clk.Advance(time.Minute)
	n, err := bus.Relay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var attempts int
	require.NoError(t, db.Raw(`SELECT attempts FROM event_outbox WHERE event_key = ?`, "pur_1").Scan(&attempts).Error)
	assert.Equal(t, 1, attempts)

	n, err = bus.Relay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	delivered := map[string]bool{}
	for _, ev := range sink.snapshot() {
		delivered[ev.ID] = true
	}
	assert.True(t, delivered[evs[0].ID])
	assert.True(t, delivered[evs[1].ID])

	var pending int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM event_outbox WHERE delivered_at IS NULL`).Scan(&pending).Error)
	assert.Zero(t, pending)
}
