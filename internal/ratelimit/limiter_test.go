package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ayusman/watchpost/internal/timeutil"
)

func TestAllow_CooldownWindow(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(5*time.Second, clock)

	assert.True(t, l.Allow("alice", "scan"), "first call allowed")
	assert.False(t, l.Allow("alice", "scan"), "immediate repeat refused")

	clock.Advance(4 * time.Second)
	assert.False(t, l.Allow("alice", "scan"), "still inside the window")

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, l.Allow("alice", "scan"), "allowed after the cooldown")
	assert.False(t, l.Allow("alice", "scan"))
}

func TestAllow_RefusalDoesNotExtendWindow(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l := New(10*time.Second, clock)

	assert.True(t, l.Allow("u", "status"))
	for i := 0; i < 9; i++ {
		clock.Advance(time.Second)
		assert.False(t, l.Allow("u", "status"))
	}
	clock.Advance(1100 * time.Millisecond)
	assert.True(t, l.Allow("u", "status"), "window measured from the last allowed call")
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l := New(time.Minute, clock)

	assert.True(t, l.Allow("alice", "scan"))
	assert.True(t, l.Allow("alice", "status"), "different action")
	assert.True(t, l.Allow("bob", "scan"), "different identity")
	assert.False(t, l.Allow("alice", "scan"))
}

func TestAllow_ZeroCooldownNeverLimits(t *testing.T) {
	l := New(0, timeutil.NewMockClock(time.Unix(0, 0)))

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("u", "scan"))
	}
	assert.Zero(t, l.Remaining("u", "scan"))
}

func TestSetCooldown_PerAction(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l := New(time.Minute, clock)
	l.SetCooldown("alerts", 10*time.Second)

	assert.Equal(t, 10*time.Second, l.Cooldown("alerts"))
	assert.Equal(t, time.Minute, l.Cooldown("scan"))

	assert.True(t, l.Allow("alerts", "mqtt:person"))
	clock.Advance(11 * time.Second)
	assert.True(t, l.Allow("alerts", "mqtt:person"))
}

func TestRemaining(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l := New(10*time.Second, clock)

	assert.Zero(t, l.Remaining("u", "scan"), "unknown pair may proceed")

	l.Allow("u", "scan")
	clock.Advance(3 * time.Second)
	assert.InDelta(t, float64(7*time.Second), float64(l.Remaining("u", "scan")), float64(time.Millisecond))

	// Remaining is a pure read
	assert.False(t, l.Allow("u", "scan"))
	clock.Advance(7100 * time.Millisecond)
	assert.Zero(t, l.Remaining("u", "scan"))
	assert.True(t, l.Allow("u", "scan"))
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(time.Hour, timeutil.NewMockClock(time.Unix(0, 0)))
	var allowed atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("u", "scan") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load(), "exactly one concurrent caller wins")
}
