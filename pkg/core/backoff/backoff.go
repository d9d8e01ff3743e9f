// Package backoff computes the delay between reconnect attempts.
package backoff

import "time"

// Policy controls reconnect pacing. The delay doubles with every failed
// attempt, starting at InitialDelay and clamped to MaxDelay.
type Policy struct {
	// InitialDelay is the wait before the first reconnect attempt.
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `json:"max_delay"`

	// MaxAttempts bounds consecutive failed attempts. 0 means unlimited.
	MaxAttempts int `json:"max_attempts"`
}

// DefaultPolicy returns the standard reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
	}
}

// Delay returns the wait before the given reconnect attempt.
// Attempts are numbered from 1: delay = InitialDelay * 2^(attempt-1),
// clamped to MaxDelay. Pure and deterministic.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		// delay <= 0 catches overflow for very large attempt counts
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether the given attempt exceeds the attempt budget.
// Attempts 1..MaxAttempts are allowed; with MaxAttempts == 0 nothing ever
// exhausts.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}
