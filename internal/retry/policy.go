package retry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"nutrilog/internal/config"
)

// Policy holds the attempt ceiling and exponential backoff parameters.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// MaxDelay caps a single delay; zero leaves it uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy returns four attempts with delays of 0, 1s, 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

// FromConfig builds a policy from the [retry] section.
func FromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: time.Duration(cfg.InitialDelayMs) * time.Millisecond,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
	}
}

// Validate rejects policies that could retry forever or go backwards.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must be non-negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// BackoffDelay returns the wait after the given failed attempt:
// InitialDelay * Multiplier^(failedAttempt-1).
func (p Policy) BackoffDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		return 0
	}
	factor := math.Pow(p.Multiplier, float64(failedAttempt-1))
	delay := float64(p.InitialDelay) * factor
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// DelayBefore returns the wait preceding the given attempt. The first attempt
// runs immediately.
func (p Policy) DelayBefore(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.BackoffDelay(attempt - 1)
}

// Decision is the scheduler's instruction after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Exhausted marks a retryable failure that hit the attempt ceiling.
	Exhausted bool
}

// Next decides what follows a failure classified as cls after attemptCount
// attempts have been recorded.
func (p Policy) Next(cls Classification, attemptCount int) Decision {
	if !cls.Retryable() {
		return Decision{}
	}
	if attemptCount >= p.MaxAttempts {
		return Decision{Exhausted: true}
	}
	return Decision{Retry: true, Delay: p.BackoffDelay(attemptCount)}
}
