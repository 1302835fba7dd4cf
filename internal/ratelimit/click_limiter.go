package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cashback/internal/config"
	"go.uber.org/zap"
)

// ClickLimiter throttles click tracking per signed-in user, or per IP for
// anonymous visitors.
type ClickLimiter struct {
	enabled bool
	bucket  *TokenBucket
	prefix  string
	rate    float64
	burst   int
	log     *zap.Logger
}

func NewClickLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *ClickLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	rl := cfg.RateLimit
	return &ClickLimiter{
		enabled: rl.ClickEnabled && client != nil && rl.ClickCapacity > 0 && rl.ClickRefillPerSec > 0,
		bucket:  NewTokenBucket(client),
		prefix:  cfg.Redis.KeyPrefix,
		rate:    rl.ClickRefillPerSec,
		burst:   rl.ClickCapacity,
		log:     log.Named("ratelimit.click"),
	}
}

// Allow reports whether another click may be recorded. Errors fail open.
func (l *ClickLimiter) Allow(ctx context.Context, userID, ip string) (bool, time.Duration) {
	if l == nil || !l.enabled {
		return true, 0
	}

	subject := "ip:" + strings.TrimSpace(ip)
	if id := strings.TrimSpace(userID); id != "" {
		subject = "user:" + id
	}

	res, err := l.bucket.Take(ctx, Key(l.prefix, "click", subject), l.rate, l.burst)
	if err != nil {
		l.log.Warn("click limiter unavailable, allowing click", zap.String("subject", subject), zap.Error(err))
		return true, 0
	}
	return res.Allowed, res.RetryAfter
}
