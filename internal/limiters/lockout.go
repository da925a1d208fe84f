package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the account lockout limiter.
type LockoutConfig struct {
	Enabled bool
	// Threshold failures inside Window lock the account for Duration.
	Threshold int
	Window    time.Duration
	Duration  time.Duration
	Now       func() time.Time
}

// DefaultLockoutConfig returns 5 failures in 15 minutes, locked for 15 minutes.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Enabled:   true,
		Threshold: 5,
		Window:    15 * time.Minute,
		Duration:  15 * time.Minute,
	}
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Lockout tracks failed login attempts per email.
type Lockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
	now    func() time.Time
}

// NewLockout creates a new lockout limiter.
func NewLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *Lockout {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Lockout{redis: redisClient, config: cfg, now: now}
}

func lockoutKey(email string) string {
	return "lo:" + strings.ToLower(strings.TrimSpace(email))
}

// recordScript increments the failure count. A failure while locked is not
// counted. A stale window or an expired lockout starts a fresh count.
// Returns the lockout deadline in ms, 0 when not locked.
var recordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local lockMs = tonumber(ARGV[4])

local lockedUntil = tonumber(redis.call('HGET', KEYS[1], 'until') or '0')
if lockedUntil > now then
  return lockedUntil
end

local first = tonumber(redis.call('HGET', KEYS[1], 'first') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if lockedUntil > 0 or first == 0 or now - first >= window then
  count = 0
  first = now
end

count = count + 1
lockedUntil = 0
local ttl = first + window - now
if count >= threshold then
  lockedUntil = now + lockMs
  ttl = lockMs
end
if ttl < 1 then
  ttl = 1
end

redis.call('HSET', KEYS[1], 'count', count, 'first', first, 'until', lockedUntil)
redis.call('PEXPIRE', KEYS[1], ttl)
return lockedUntil
`)

// blockedScript reports the lockout deadline and deletes an expired lockout.
var blockedScript = redis.NewScript(`
local lockedUntil = tonumber(redis.call('HGET', KEYS[1], 'until') or '0')
if lockedUntil == 0 then
  return 0
end
if tonumber(ARGV[1]) < lockedUntil then
  return lockedUntil
end
redis.call('DEL', KEYS[1])
return 0
`)

// RecordFailure counts one failed attempt. It returns true when the account
// is locked after this call.
func (l *Lockout) RecordFailure(ctx context.Context, email string) (bool, error) {
	if l == nil || !l.config.Enabled || email == "" {
		return false, nil
	}

	until, err := recordScript.Run(ctx, l.redis, []string{lockoutKey(email)},
		l.now().UnixMilli(),
		l.config.Window.Milliseconds(),
		l.config.Threshold,
		l.config.Duration.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return until > 0, nil
}

// IsBlocked reports whether the account is locked right now.
func (l *Lockout) IsBlocked(ctx context.Context, email string) (bool, error) {
	if l == nil || !l.config.Enabled || email == "" {
		return false, nil
	}

	until, err := blockedScript.Run(ctx, l.redis, []string{lockoutKey(email)}, l.now().UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return until > 0, nil
}

// Reset clears the record after a successful login.
func (l *Lockout) Reset(ctx context.Context, email string) error {
	if l == nil || !l.config.Enabled || email == "" {
		return nil
	}

	if err := l.redis.Del(ctx, lockoutKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Attempts returns the failure count in the current window.
func (l *Lockout) Attempts(ctx context.Context, email string) (int, error) {
	if l == nil || !l.config.Enabled || email == "" {
		return 0, nil
	}

	count, err := l.redis.HGet(ctx, lockoutKey(email), "count").Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return count, nil
}
