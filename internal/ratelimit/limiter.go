// Package ratelimit is a Redis-backed token bucket shared by every API
// replica.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "pixelnorm:ratelimit"

var (
	ErrInvalidConfig = errors.New("invalid rate limit config")
	ErrInvalidCost   = errors.New("cost must be between 1 and the bucket capacity")
)

type Config struct {
	// Capacity is the burst size and the most a single call may take.
	Capacity int
	// RatePerMinute is the steady refill rate.
	RatePerMinute int
	KeyPrefix     string
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// KEYS[1] bucket; ARGV capacity, tokens per ms, now ms, cost, ttl ms.
// Returns {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate)
end

local allowed, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

type Limiter struct {
	client redis.UniversalClient
	cfg    Config
	perMS  float64
	ttl    time.Duration
	now    func() time.Time
}

func New(client redis.UniversalClient, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	if cfg.RatePerMinute <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	// An idle bucket is full again after fill; keep it a little longer.
	fill := time.Duration(cfg.Capacity) * time.Minute / time.Duration(cfg.RatePerMinute)
	return &Limiter{
		client: client,
		cfg:    cfg,
		perMS:  float64(cfg.RatePerMinute) / float64(time.Minute.Milliseconds()),
		ttl:    max(2*fill, time.Second),
		now:    time.Now,
	}, nil
}

func (l *Limiter) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens from subject's bucket in one step.
func (l *Limiter) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	if cost < 1 || cost > l.cfg.Capacity {
		return Decision{}, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}

	reply, err := takeScript.Run(ctx, l.client,
		[]string{l.key(subject)},
		l.cfg.Capacity,
		l.perMS,
		l.now().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket: %w", err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket: unexpected reply %v", reply)
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

func (l *Limiter) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.cfg.KeyPrefix + ":" + subject
}
