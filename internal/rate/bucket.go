package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Class names an endpoint family sharing one bucket per client.
type Class string

const (
	ClassLogin         Class = "login"
	ClassRegister      Class = "register"
	ClassRefresh       Class = "refresh"
	ClassPasswordReset Class = "password-reset"
	ClassTwoFactor     Class = "2fa"
)

// Policy is the bucket shape for one class.
type Policy struct {
	Capacity int
	Period   time.Duration
}

// Config holds the per-class policies and an optional clock override.
type Config struct {
	Policies map[Class]Policy
	Now      func() time.Time
}

// DefaultPolicies returns the production bucket sizes.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassLogin:         {Capacity: 20, Period: time.Minute},
		ClassRegister:      {Capacity: 3, Period: time.Hour},
		ClassRefresh:       {Capacity: 30, Period: time.Minute},
		ClassPasswordReset: {Capacity: 5, Period: time.Hour},
		ClassTwoFactor:     {Capacity: 10, Period: time.Minute},
	}
}

// Validate rejects empty or non-positive policies.
func (c Config) Validate() error {
	for class, p := range c.Policies {
		if p.Capacity <= 0 || p.Period <= 0 {
			return fmt.Errorf("rate policy %q must have positive capacity and period", class)
		}
	}
	return nil
}

// Limiter takes tokens from shared buckets.
type Limiter struct {
	redis    redis.UniversalClient
	policies map[Class]Policy
	now      func() time.Time
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	policies := make(map[Class]Policy, len(cfg.Policies))
	for k, v := range cfg.Policies {
		policies[k] = v
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{redis: redisClient, policies: policies, now: now}
}

// takeScript refills the bucket for the elapsed time, then takes one token.
// It returns {allowed, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * capacity / period)
  ts = now
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) * period / capacity)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], period)
return {allowed, retry}
`)

// Allow takes one token from the (class, subject) bucket. On rejection it
// returns ErrRateLimited and the time until the next token is available.
func (l *Limiter) Allow(ctx context.Context, class Class, subject string) (time.Duration, error) {
	policy, ok := l.policies[class]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}

	res, err := takeScript.Run(ctx, l.redis, []string{bucketKey(class, subject)},
		policy.Capacity,
		policy.Period.Milliseconds(),
		l.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	if res[0] == 1 {
		return 0, nil
	}
	return time.Duration(res[1]) * time.Millisecond, ErrRateLimited
}

func bucketKey(class Class, subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	return "rl:" + string(class) + ":" + subject
}
