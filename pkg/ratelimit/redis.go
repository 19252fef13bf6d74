package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes a per-user bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter shares one token bucket per user across instances. The
// bucket state self-expires so idle users cost nothing.
type RedisLimiter struct {
	client    *redis.Client
	perSecond float64
	burst     int
}

// NewRedisLimiter allows perMinute calls per user with the given burst,
// coordinated through the provided client.
func NewRedisLimiter(client *redis.Client, perMinute, burst int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RedisLimiter{
		client:    client,
		perSecond: float64(perMinute) / 60.0,
		burst:     burst,
	}
}

// Allow consumes one token from the user's shared bucket.
func (l *RedisLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := "tier3:" + userID
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.perSecond, l.burst, now).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis bucket: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
