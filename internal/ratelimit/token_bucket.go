package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket state lives in one hash: fractional tokens and the last refill
// in server milliseconds. ARGV: refill per second, capacity, cost, ttl ms.
const tokenBucketScript = `
local refill = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(capacity, tokens + (now - last) * refill / 1000)
end

local granted = 0
if tokens >= cost then
  tokens = tokens - cost
  granted = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {granted, tostring(tokens)}
`

var errLimiterNotConfigured = errors.New("rate limiter not configured")

// TokenBucket is a Redis-backed bucket shared by every API replica.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

// BucketResult is the outcome of one take.
type BucketResult struct {
	Allowed    bool
	Capacity   int
	Tokens     float64
	RetryAfter time.Duration
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Take removes one token from the bucket at key. The bucket refills at
// refill tokens per second up to capacity.
func (b *TokenBucket) Take(ctx context.Context, key string, refill float64, capacity int) (BucketResult, error) {
	if b == nil || b.client == nil {
		return BucketResult{}, errLimiterNotConfigured
	}
	if key == "" || refill <= 0 || capacity <= 0 {
		return BucketResult{}, fmt.Errorf("invalid bucket %q: refill=%v capacity=%d", key, refill, capacity)
	}

	const cost = 1
	reply, err := b.script.Run(ctx, b.client, []string{key}, refill, capacity, cost, bucketTTL(refill, capacity).Milliseconds()).Slice()
	if err != nil {
		return BucketResult{}, err
	}
	if len(reply) != 2 {
		return BucketResult{}, fmt.Errorf("token bucket reply has %d values", len(reply))
	}

	res := BucketResult{
		Allowed:  replyInt(reply[0]) == 1,
		Capacity: capacity,
		Tokens:   replyFloat(reply[1]),
	}
	if !res.Allowed && res.Tokens < cost {
		res.RetryAfter = time.Duration((cost - res.Tokens) / refill * float64(time.Second))
	}
	return res, nil
}

// bucketTTL keeps an idle bucket around for two full refills.
func bucketTTL(refill float64, capacity int) time.Duration {
	return time.Duration(math.Max(1, math.Ceil(2*float64(capacity)/refill))) * time.Second
}

func replyInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}

func replyFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	}
	return 0
}
