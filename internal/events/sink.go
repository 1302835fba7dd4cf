package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/cashback/internal/config"
	"go.uber.org/zap"
)

func NewSink(cfg config.Config, log *zap.Logger) (Sink, error) {
	switch cfg.Events.Sink {
	case "", "log":
		return NewLogSink(log), nil
	case "kafka":
		return NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	default:
		return nil, fmt.Errorf("unsupported events sink %q", cfg.Events.Sink)
	}
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("events.sink")}
}

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.log.Info("event.published",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("key", event.Key),
		zap.Any("payload", event.Payload),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("events kafka topic is required")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}, nil
}

func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	value, err := event.Marshal()
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.OccurredAt,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
