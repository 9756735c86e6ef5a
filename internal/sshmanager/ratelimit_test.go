package sshmanager

import (
	"errors"
	"testing"
	"time"
)

func testLimiter(config RateLimitConfig) (*connectLimiter, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newConnectLimiter(config)
	rl.nowFn = func() time.Time { return now }
	return rl, &now
}

func TestConnectLimiterWindow(t *testing.T) {
	rl, now := testLimiter(RateLimitConfig{MaxAttemptsPerMinute: 3})
	for i := 0; i < 3; i++ {
		if err := rl.allow("k"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if err := rl.allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := rl.allow("other"); err != nil {
		t.Errorf("limit leaked to another key: %v", err)
	}

	*now = now.Add(61 * time.Second)
	if err := rl.allow("k"); err != nil {
		t.Errorf("window did not slide: %v", err)
	}
}

func TestConnectLimiterBlocksAfterFailures(t *testing.T) {
	rl, now := testLimiter(RateLimitConfig{MaxAttemptsPerMinute: 100, MaxConsecFailures: 2, BlockDuration: time.Minute})
	rl.recordFailure("k")
	if err := rl.allow("k"); err != nil {
		t.Fatalf("blocked after one failure: %v", err)
	}
	rl.recordFailure("k")
	if err := rl.allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected block, got %v", err)
	}

	*now = now.Add(2 * time.Minute)
	if err := rl.allow("k"); err != nil {
		t.Errorf("block did not expire: %v", err)
	}
}

func TestConnectLimiterSuccessClearsFailures(t *testing.T) {
	rl, _ := testLimiter(RateLimitConfig{MaxConsecFailures: 2})
	rl.recordFailure("k")
	rl.recordSuccess("k")
	rl.recordFailure("k")
	if err := rl.allow("k"); err != nil {
		t.Errorf("success did not reset the failure count: %v", err)
	}
}

func TestResetRateLimit(t *testing.T) {
	m := newTestManager(t, Options{RateLimit: RateLimitConfig{MaxConsecFailures: 1}})
	m.limiter.recordFailure("k")
	if err := m.limiter.allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected block, got %v", err)
	}
	m.ResetRateLimit("k")
	if err := m.limiter.allow("k"); err != nil {
		t.Errorf("ResetRateLimit did not unblock: %v", err)
	}
}
