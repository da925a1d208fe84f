package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCooldownUnavailable indicates the marker backend is unreachable.
	ErrCooldownUnavailable = errors.New("cooldown backend unavailable")
)

const (
	passwordResetPrefix      = "prc:"
	verificationResendPrefix = "evc:"
)

// Cooldown is a per-identity marker that expires on its own. Acquire
// succeeds at most once per TTL for the same identity.
type Cooldown struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewPasswordResetCooldown spaces out reset emails for one identity.
func NewPasswordResetCooldown(redisClient redis.UniversalClient, ttl time.Duration) *Cooldown {
	return &Cooldown{redis: redisClient, prefix: passwordResetPrefix, ttl: ttl}
}

// NewVerificationResendCooldown spaces out verification emails for one identity.
func NewVerificationResendCooldown(redisClient redis.UniversalClient, ttl time.Duration) *Cooldown {
	return &Cooldown{redis: redisClient, prefix: verificationResendPrefix, ttl: ttl}
}

// Acquire sets the marker if absent. It returns false while a previous
// marker is still live.
func (c *Cooldown) Acquire(ctx context.Context, identityID string) (bool, error) {
	if c == nil || c.ttl <= 0 || identityID == "" {
		return true, nil
	}

	ok, err := c.redis.SetNX(ctx, c.prefix+identityID, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	return ok, nil
}
