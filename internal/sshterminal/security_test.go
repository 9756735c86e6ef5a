package sshterminal

import (
	"testing"
	"time"
)

func TestValidateSize(t *testing.T) {
	tests := []struct {
		cols, rows int
		ok         bool
	}{
		{120, 30, true},
		{MaxTermCols, MaxTermRows, true},
		{0, 30, false},
		{120, -1, false},
		{MaxTermCols + 1, 30, false},
		{120, MaxTermRows + 1, false},
	}
	for _, tt := range tests {
		err := ValidateSize(tt.cols, tt.rows)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateSize(%d, %d) err = %v, want ok=%v", tt.cols, tt.rows, err, tt.ok)
		}
	}
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 5)
	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Fatalf("message %d rejected within burst", i)
		}
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 3)
	rl.nowFn = func() time.Time { return now }
	rl.lastRefill = now
	for i := 0; i < 3; i++ {
		rl.Allow()
	}
	if rl.Allow() {
		t.Error("expected rejection after burst exhausted")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(10, 1)
	rl.nowFn = func() time.Time { return now }
	rl.lastRefill = now
	if !rl.Allow() {
		t.Fatal("first message rejected")
	}
	if rl.Allow() {
		t.Fatal("second message allowed without refill")
	}
	now = now.Add(200 * time.Millisecond)
	if !rl.Allow() {
		t.Error("message rejected after refill interval")
	}
}
