// Package ratelimit throttles abusive clients with a token bucket kept in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCapacity        = 20
	defaultRefillPerMinute = 20
	defaultPrefix          = "bibli:ratelimit"
)

// Decision is the outcome of one request against a bucket.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Unlimited admits every request. It is used when Redis is not configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// bucketScript refills whole intervals since the last refill, then takes a
// token if one is left. It returns {allowed, tokens, retry_after_ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 then
	local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + intervals * interval_ms
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// Config sizes the bucket.
type Config struct {
	Capacity        int
	RefillPerMinute int
	Prefix          string
	Clock           func() time.Time
}

// RedisLimiter runs the bucket script against a Redis server.
type RedisLimiter struct {
	client   redis.Scripter
	capacity int
	interval time.Duration
	ttl      time.Duration
	prefix   string
	now      func() time.Time
}

// NewRedisLimiter builds a limiter that admits Capacity requests in a burst
// and refills RefillPerMinute tokens a minute.
func NewRedisLimiter(client redis.Scripter, cfg Config) *RedisLimiter {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	refill := cfg.RefillPerMinute
	if refill <= 0 {
		refill = defaultRefillPerMinute
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := time.Minute / time.Duration(refill)
	ttl := interval*time.Duration(capacity) + time.Minute
	return &RedisLimiter{client: client, capacity: capacity, interval: interval, ttl: ttl, prefix: prefix, now: clock}
}

// Allow takes a token from the bucket named by key. When Redis fails the
// request is admitted and the error returned for logging.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	open := Decision{Allowed: true, Limit: l.capacity}
	values, err := bucketScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		l.now().UnixMilli(),
		l.capacity,
		l.interval.Milliseconds(),
		int64(l.ttl/time.Second),
	).Int64Slice()
	if err != nil {
		return open, fmt.Errorf("ratelimit: run bucket script: %w", err)
	}
	if len(values) != 3 {
		return open, fmt.Errorf("ratelimit: unexpected script result of %d values", len(values))
	}
	return Decision{
		Allowed:    values[0] == 1,
		Limit:      l.capacity,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// RetryAfterSeconds rounds a wait up to whole seconds for the Retry-After header.
func (d Decision) RetryAfterSeconds() string {
	seconds := int64((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

// NewRedisClient connects to the server at address.
func NewRedisClient(address, password string, database int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: address, Password: password, DB: database})
}
