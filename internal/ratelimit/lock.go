package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cashback/internal/config"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Locker is a single-key mutual exclusion lock shared by every instance.
// Ownership is proven by the random token handed out on acquire.
type Locker struct {
	client  *redis.Client
	prefix  string
	log     *zap.Logger
	release *redis.Script
	extend  *redis.Script
}

func NewLocker(client *redis.Client, cfg config.Config, log *zap.Logger) *Locker {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{
		client:  client,
		prefix:  cfg.Redis.KeyPrefix,
		log:     log.Named("ratelimit.lock"),
		release: redis.NewScript(lockReleaseScript),
		extend:  redis.NewScript(lockExtendScript),
	}
}

// Acquire returns the owner token when the lock was taken. A lock held by
// someone else and an unreachable backend both report ok=false; callers skip
// the guarded work in either case.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool) {
	if l == nil || l.client == nil || name == "" || ttl <= 0 {
		return "", false
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		l.log.Warn("lock acquire failed", zap.String("lock", name), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	return token, true
}

// Release deletes the lock only while token still owns it.
func (l *Locker) Release(ctx context.Context, name, token string) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("lock client not configured")
	}
	if name == "" || token == "" {
		return false, nil
	}
	n, err := l.release.Run(ctx, l.client, []string{l.key(name)}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Extend pushes the expiry of an owned lock out to ttl from now.
func (l *Locker) Extend(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("lock client not configured")
	}
	if name == "" || token == "" || ttl <= 0 {
		return false, nil
	}
	n, err := l.extend.Run(ctx, l.client, []string{l.key(name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Locker) key(name string) string {
	return Key(l.prefix, "lock", name)
}
