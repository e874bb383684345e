// Package retry computes backoff schedules for failed job stages.
package retry

import "time"

// DefaultMaxAttempts caps retries regardless of the computed delay.
const DefaultMaxAttempts = 10

// Policy is a pure, stateless backoff policy shared by any stage that wants
// bounded exponential retries.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// Decision is the outcome of consulting the policy for one attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// NextDelay returns min(InitialDelay * 2^attempt, MaxDelay).
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Next decides whether the given attempt should be retried and after how
// long. The failure is terminal once the computed delay reaches MaxDelay or
// the attempt count reaches MaxAttempts, whichever comes first.
func (p Policy) Next(attempt int) Decision {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	delay := p.NextDelay(attempt)
	if delay >= p.MaxDelay || attempt >= max {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: delay}
}
