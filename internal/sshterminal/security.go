package sshterminal

import (
	"fmt"
	"sync"
	"time"
)

// Limits applied to browser terminal input.
const (
	MaxTermCols = 500
	MaxTermRows = 200

	MessageRateLimit = 100
	MessageRateBurst = 200
)

// ValidateSize rejects non-positive or oversized terminal dimensions.
func ValidateSize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > MaxTermCols || rows > MaxTermRows {
		return fmt.Errorf("invalid terminal size %dx%d (max %dx%d)", cols, rows, MaxTermCols, MaxTermRows)
	}
	return nil
}

// RateLimiter is a token bucket for inbound terminal messages.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	nowFn      func() time.Time
}

// NewRateLimiter creates a limiter refilling rate tokens per second up to burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
		nowFn:      time.Now,
	}
}

// Allow consumes one token, reporting false when the bucket is empty.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	rl.lastRefill = now
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
