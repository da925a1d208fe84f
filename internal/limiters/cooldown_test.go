package limiters

import (
	"context"
	"testing"
	"time"
)

func TestCooldownAllowsOncePerTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewPasswordResetCooldown(rdb, time.Minute)
	ctx := context.Background()

	ok, err := c.Acquire(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.Acquire(ctx, "u1"); ok {
		t.Fatal("second acquire inside TTL must fail")
	}
	if ok, _ := c.Acquire(ctx, "u2"); !ok {
		t.Fatal("other identity must not be affected")
	}

	mr.FastForward(61 * time.Second)
	if ok, _ := c.Acquire(ctx, "u1"); !ok {
		t.Fatal("marker should clear itself after TTL")
	}
}

func TestCooldownNamespacesAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	reset := NewPasswordResetCooldown(rdb, time.Minute)
	resend := NewVerificationResendCooldown(rdb, time.Minute)

	if ok, _ := reset.Acquire(ctx, "u1"); !ok {
		t.Fatal("reset acquire failed")
	}
	if ok, _ := resend.Acquire(ctx, "u1"); !ok {
		t.Fatal("resend marker must not share the reset namespace")
	}
}
