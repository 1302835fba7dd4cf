package events

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	enqueueTimeout = 100 * time.Millisecond
	relayBatchSize = 100
)

// Bus is a bounded in-process queue drained by one background consumer.
// Deliveries are retried until the sink accepts them or attempts run out.
// Durable events left undelivered are picked up again from the outbox.
type Bus struct {
	queue         chan Event
	sink          Sink
	outbox        *Outbox
	clock         clock.Clock
	log           *zap.Logger
	metrics       *obsmetrics.Metrics
	maxAttempts   int
	backoff       time.Duration
	relayInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Params struct {
	fx.In

	Config  config.Config
	Sink    Sink
	Log     *zap.Logger
	Outbox  *Outbox             `optional:"true"`
	Clock   clock.Clock         `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewBus(p Params) *Bus {
	size := p.Config.Events.BufferSize
	if size <= 0 {
		size = 1024
	}
	attempts := p.Config.Events.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	relay := p.Config.Events.RelayInterval
	if relay <= 0 {
		relay = 30 * time.Second
	}
	return &Bus{
		queue:         make(chan Event, size),
		sink:          p.Sink,
		outbox:        p.Outbox,
		clock:         clk,
		log:           p.Log.Named("events.bus"),
		metrics:       p.Metrics,
		maxAttempts:   attempts,
		backoff:       p.Config.Events.RetryBackoff,
		relayInterval: relay,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Publish enqueues event without blocking the caller for long. When the
// queue stays full a durable event is left to the outbox relay; any other
// event is dropped with an error log.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	select {
	case b.queue <- event:
		return
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case b.queue <- event:
	case <-ctx.Done():
		b.drop(ctx, event, "context_done")
	case <-timer.C:
		b.drop(ctx, event, "queue_full")
	}
}

func (b *Bus) drop(ctx context.Context, event Event, reason string) {
	if b.relays(event) {
		b.log.Warn("event.deferred",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("reason", reason),
		)
		b.metrics.RecordEventDelivery(ctx, string(event.Type), "deferred")
		return
	}
	b.log.Error("event.dropped",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("reason", reason),
	)
	b.metrics.RecordEventDelivery(ctx, string(event.Type), "dropped")
}

func (b *Bus) Start() {
	go b.run()
}

// Stop closes intake and waits for queued events to drain or ctx to expire.
func (b *Bus) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })
	select {
	case <-b.done:
	case <-ctx.Done():
		b.log.Warn("event bus stopped before drain", zap.Int("pending", len(b.queue)))
	}
	return b.sink.Close()
}

func (b *Bus) relays(event Event) bool {
	return event.Durable && b.outbox != nil
}

func (b *Bus) run() {
	defer close(b.done)

	var tick <-chan time.Time
	if b.outbox != nil {
		ticker := time.NewTicker(b.relayInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-tick:
			if _, err := b.Relay(context.Background()); err != nil {
				b.log.Warn("event.relay_failed", zap.Error(err))
			}
		case <-b.stop:
			for {
				select {
				case event := <-b.queue:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(event Event) {
	ctx := context.Background()
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		err = b.sink.Deliver(ctx, event)
		if err == nil {
			b.metrics.RecordEventDelivery(ctx, string(event.Type), "delivered")
			if b.relays(event) {
				if markErr := b.outbox.MarkDelivered(ctx, event.ID); markErr != nil {
					b.log.Warn("event.outbox.mark_failed", zap.String("event_id", event.ID), zap.Error(markErr))
				}
			}
			return
		}
		b.log.Warn("event.delivery_failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < b.maxAttempts && b.backoff > 0 {
			time.Sleep(b.backoff * time.Duration(attempt))
		}
	}
	if b.relays(event) {
		if markErr := b.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			b.log.Warn("event.outbox.mark_failed", zap.String("event_id", event.ID), zap.Error(markErr))
		}
		b.metrics.RecordEventDelivery(ctx, string(event.Type), "deferred")
		b.log.Warn("event.delivery_deferred",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	b.metrics.RecordEventDelivery(ctx, string(event.Type), "failed")
	b.log.Error("event.delivery_exhausted",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Error(err),
	)
}

// Relay delivers outbox events that have waited at least one relay interval.
// Events still in the queue may be delivered twice; consumers dedupe on ID.
func (b *Bus) Relay(ctx context.Context) (int, error) {
	if b == nil || b.outbox == nil {
		return 0, nil
	}
	pending, err := b.outbox.Pending(ctx, b.clock.Now().Add(-b.relayInterval), relayBatchSize)
	if err != nil {
		return 0, err
	}
	for _, event := range pending {
		b.deliver(event)
	}
	if len(pending) > 0 {
		b.log.Info("event.relayed", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}
