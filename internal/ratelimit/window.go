package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cashback/internal/config"
	"go.uber.org/zap"
)

const windowCounterScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`

type WindowResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	// Degraded is set when the limiter could not reach its backend and
	// allowed the request anyway.
	Degraded bool
}

// WindowLimiter is a fixed window request counter keyed per caller.
type WindowLimiter struct {
	enabled bool
	client  *redis.Client
	script  *redis.Script
	prefix  string
	limit   int
	window  time.Duration
	log     *zap.Logger
}

func NewWindowLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *WindowLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	rl := cfg.RateLimit
	return &WindowLimiter{
		enabled: rl.WebhookEnabled && client != nil && rl.WebhookLimit > 0 && rl.WebhookWindow > 0,
		client:  client,
		script:  redis.NewScript(windowCounterScript),
		prefix:  cfg.Redis.KeyPrefix,
		limit:   rl.WebhookLimit,
		window:  rl.WebhookWindow,
		log:     log.Named("ratelimit.window"),
	}
}

func (w *WindowLimiter) Enabled() bool {
	return w != nil && w.enabled
}

// Allow counts one hit against key. Backend errors fail open.
func (w *WindowLimiter) Allow(ctx context.Context, key string) WindowResult {
	if !w.Enabled() {
		return WindowResult{Allowed: true}
	}

	res, err := w.script.Run(ctx, w.client, []string{Key(w.prefix, "ratelimit", key)}, w.window.Milliseconds()).Slice()
	if err != nil || len(res) < 2 {
		w.log.Warn("window limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
		return WindowResult{Allowed: true, Limit: w.limit, Degraded: true}
	}

	count := replyInt(res[0])
	ttl := time.Duration(replyInt(res[1])) * time.Millisecond

	remaining := w.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	result := WindowResult{
		Allowed:   count <= int64(w.limit),
		Limit:     w.limit,
		Remaining: remaining,
	}
	if !result.Allowed {
		result.RetryAfter = ttl
	}
	return result
}
