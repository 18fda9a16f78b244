// Package backoff implements a bounded exponential retry state machine used by
// the capture reconnect loop and the notification sinks.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/ayusman/watchpost/internal/timeutil"
)

// ErrExhausted is returned by Retry once MaxAttempts have failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures a retry schedule.
//
// Delay for attempt n (1-based) is InitialDelay * 2^(n-1), capped at MaxDelay:
//   - attempt 1: 1s
//   - attempt 2: 2s
//   - attempt 3: 4s
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy returns the capture reconnect defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// State tracks progress through a Policy. The zero value is not usable; use
// NewState.
type State struct {
	policy   Policy
	attempts int
}

// NewState returns a fresh state machine for p.
func NewState(p Policy) *State {
	return &State{policy: p.normalized()}
}

// Next records a failed attempt and returns the delay before the next one.
// ok is false once the attempt budget is spent.
func (s *State) Next() (delay time.Duration, ok bool) {
	s.attempts++
	if s.attempts >= s.policy.MaxAttempts {
		return 0, false
	}
	return s.delayFor(s.attempts), true
}

// Reset clears the failure count after a success.
func (s *State) Reset() {
	s.attempts = 0
}

// Attempts returns the number of failures recorded since the last Reset.
func (s *State) Attempts() int {
	return s.attempts
}

// Exhausted reports whether the attempt budget is spent.
func (s *State) Exhausted() bool {
	return s.attempts >= s.policy.MaxAttempts
}

func (s *State) delayFor(attempt int) time.Duration {
	delay := s.policy.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.policy.MaxDelay {
			return s.policy.MaxDelay
		}
	}
	return delay
}

// Retry runs fn until it succeeds, the policy is exhausted or ctx is done.
// Waiting happens on clock so tests can advance time manually. The last error
// from fn is joined with ErrExhausted when attempts run out.
func Retry(ctx context.Context, clock timeutil.Clock, p Policy, fn func(ctx context.Context) error) error {
	state := NewState(p)
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		delay, ok := state.Next()
		if !ok {
			return errors.Join(ErrExhausted, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}
	}
}
