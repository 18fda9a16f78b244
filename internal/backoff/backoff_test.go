package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/watchpost/internal/timeutil"
)

func TestState_DelaysDoubleAndCap(t *testing.T) {
	s := NewState(Policy{MaxAttempts: 6, InitialDelay: time.Second, MaxDelay: 5 * time.Second})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		d, ok := s.Next()
		require.True(t, ok, "attempt %d", i+1)
		assert.Equal(t, w, d, "attempt %d", i+1)
	}

	_, ok := s.Next()
	assert.False(t, ok)
	assert.True(t, s.Exhausted())
	assert.Equal(t, 6, s.Attempts())
}

func TestState_Reset(t *testing.T) {
	s := NewState(Policy{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: time.Second})

	_, ok := s.Next()
	require.True(t, ok)
	s.Reset()

	assert.Equal(t, 0, s.Attempts())
	assert.False(t, s.Exhausted())
	d, ok := s.Next()
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestState_NormalizesPolicy(t *testing.T) {
	s := NewState(Policy{})
	_, ok := s.Next()
	assert.False(t, ok, "zero policy allows exactly one attempt")
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	calls := 0
	done := make(chan error, 1)

	go func() {
		done <- Retry(context.Background(), clock, Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Minute},
			func(ctx context.Context) error {
				calls++
				if calls < 3 {
					return errors.New("boom")
				}
				return nil
			})
	}()

	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
		clock.Advance(time.Minute)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Retry did not return")
	}
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sentinel := errors.New("still down")

	err := Retry(context.Background(), clock, Policy{MaxAttempts: 1}, func(ctx context.Context) error {
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, sentinel)
}

func TestRetry_ContextCancelled(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Retry(ctx, clock, DefaultPolicy(), func(ctx context.Context) error {
			return errors.New("down")
		})
	}()

	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Retry ignored cancellation")
	}
}
