package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket implements a token bucket in Redis, used to pace batches of
// remote calls under the provider's rate limits. The bucket lives in
// Redis so a restarted process resumes against the same spend history.
type TokenBucket struct {
	client   *redis.Client
	key      string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client *redis.Client, key string, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		key:      key,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes cost tokens if available. Returns the allowed flag and
// the remaining token count.
func (b *TokenBucket) Allow(ctx context.Context, cost int) (bool, float64, error) {
	if cost <= 0 {
		cost = 1
	}
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.key}, b.capacity, b.refill, now, b.ttl.Milliseconds(), cost).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, err
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	default:
		tokens = 0
	}
	return allowed, tokens, nil
}

// Pause blocks until cost tokens are available or ctx is done. It polls
// on a fixed interval rather than computing exact refill time, which is
// good enough at batch granularity.
func (b *TokenBucket) Pause(ctx context.Context, cost int) error {
	const pollInterval = 200 * time.Millisecond
	for {
		allowed, _, err := b.Allow(ctx, cost)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		t := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
