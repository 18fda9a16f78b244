// Package ratelimit enforces a per-(identity, action) cooldown.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ayusman/watchpost/internal/timeutil"
)

type entryKey struct {
	identity string
	action   string
}

// Limiter allows one call per cooldown window for each (identity, action)
// pair. A refused call does not consume anything, so the window is measured
// from the last allowed call. Entries are never purged; the key space is
// bounded by operators times commands.
type Limiter struct {
	clock     timeutil.Clock
	cooldowns map[string]time.Duration
	fallback  time.Duration

	mu      sync.Mutex
	entries map[entryKey]*rate.Limiter
}

// New creates a Limiter with the given default cooldown. A nil clock uses the
// wall clock.
func New(cooldown time.Duration, clock timeutil.Clock) *Limiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Limiter{
		clock:     clock,
		cooldowns: make(map[string]time.Duration),
		fallback:  cooldown,
		entries:   make(map[entryKey]*rate.Limiter),
	}
}

// SetCooldown overrides the cooldown for one action. It applies to pairs
// first seen after the call.
func (l *Limiter) SetCooldown(action string, cooldown time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldowns[action] = cooldown
}

// Cooldown returns the window applied to action.
func (l *Limiter) Cooldown(action string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldownLocked(action)
}

func (l *Limiter) cooldownLocked(action string) time.Duration {
	if d, ok := l.cooldowns[action]; ok {
		return d
	}
	return l.fallback
}

// entry returns the limiter for k, creating it on first use. Must hold l.mu.
func (l *Limiter) entry(k entryKey) *rate.Limiter {
	lim, ok := l.entries[k]
	if !ok {
		cooldown := l.cooldownLocked(k.action)
		limit := rate.Inf
		if cooldown > 0 {
			limit = rate.Every(cooldown)
		}
		lim = rate.NewLimiter(limit, 1)
		l.entries[k] = lim
	}
	return lim
}

// Allow reports whether identity may perform action now and, if so, starts a
// new cooldown window.
func (l *Limiter) Allow(identity, action string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry(entryKey{identity, action}).AllowN(now, 1)
}

// Remaining returns how long identity must wait before action is allowed
// again. Zero means it is allowed now.
func (l *Limiter) Remaining(identity, action string) time.Duration {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.entries[entryKey{identity, action}]
	if !ok {
		return 0
	}
	tokens := lim.TokensAt(now)
	if tokens >= 1 || lim.Limit() == rate.Inf {
		return 0
	}
	return time.Duration((1 - tokens) / float64(lim.Limit()) * float64(time.Second))
}
