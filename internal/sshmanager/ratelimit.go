package sshmanager

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Connect attempts are throttled per key so a host with bad credentials is
// not hammered into an sshd or fail2ban lockout.
const (
	DefaultMaxAttemptsPerMinute = 10
	DefaultMaxConsecFailures    = 5
	DefaultBlockDuration        = 5 * time.Minute
)

// ErrRateLimited is returned by Connect while a key is throttled.
var ErrRateLimited = errors.New("connection attempts rate limited")

type RateLimitConfig struct {
	MaxAttemptsPerMinute int
	MaxConsecFailures    int
	BlockDuration        time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttemptsPerMinute: DefaultMaxAttemptsPerMinute,
		MaxConsecFailures:    DefaultMaxConsecFailures,
		BlockDuration:        DefaultBlockDuration,
	}
}

type keyRateState struct {
	attempts       []time.Time
	consecFailures int
	blockedUntil   time.Time
}

// connectLimiter combines a one-minute sliding window with a block after
// consecutive failures.
type connectLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	state  map[string]*keyRateState
	nowFn  func() time.Time
}

func newConnectLimiter(config RateLimitConfig) *connectLimiter {
	if config.MaxAttemptsPerMinute <= 0 {
		config.MaxAttemptsPerMinute = DefaultMaxAttemptsPerMinute
	}
	if config.MaxConsecFailures <= 0 {
		config.MaxConsecFailures = DefaultMaxConsecFailures
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = DefaultBlockDuration
	}
	return &connectLimiter{
		config: config,
		state:  make(map[string]*keyRateState),
		nowFn:  time.Now,
	}
}

func (rl *connectLimiter) allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.stateFor(key)
	if now.Before(s.blockedUntil) {
		return fmt.Errorf("%w: %d consecutive failures, retry in %s",
			ErrRateLimited, s.consecFailures, s.blockedUntil.Sub(now).Truncate(time.Second))
	}

	cutoff := now.Add(-time.Minute)
	recent := s.attempts[:0]
	for _, at := range s.attempts {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	s.attempts = recent
	if len(s.attempts) >= rl.config.MaxAttemptsPerMinute {
		return fmt.Errorf("%w: %d attempts in the last minute", ErrRateLimited, len(s.attempts))
	}
	s.attempts = append(s.attempts, now)
	return nil
}

func (rl *connectLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	s := rl.stateFor(key)
	s.consecFailures = 0
	s.blockedUntil = time.Time{}
}

func (rl *connectLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	s := rl.stateFor(key)
	s.consecFailures++
	if s.consecFailures >= rl.config.MaxConsecFailures {
		s.blockedUntil = rl.nowFn().Add(rl.config.BlockDuration)
	}
}

func (rl *connectLimiter) reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.state, key)
}

func (rl *connectLimiter) stateFor(key string) *keyRateState {
	s, ok := rl.state[key]
	if !ok {
		s = &keyRateState{}
		rl.state[key] = s
	}
	return s
}

// ResetRateLimit clears throttling state for key, e.g. after the operator
// fixes the host's credentials.
func (m *SSHManager) ResetRateLimit(key string) {
	m.limiter.reset(key)
}
