package service

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/webhook/domain"
	"go.uber.org/zap"
)

// RedisIdempotencyStore keeps webhook responses in Redis for the configured
// TTL. Backend errors are logged and treated as a miss.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func NewIdempotencyStore(client *redis.Client, cfg config.Config, log *zap.Logger) domain.IdempotencyStore {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.Webhook.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client,
		prefix: cfg.Redis.KeyPrefix,
		ttl:    ttl,
		log:    log.Named("webhook.idempotency"),
	}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.client == nil {
		return nil, false
	}
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("webhook idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, data []byte) {
	if s == nil || s.client == nil || len(data) == 0 {
		return
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		s.log.Warn("webhook idempotency store failed", zap.String("key", key), zap.Error(err))
	}
}
