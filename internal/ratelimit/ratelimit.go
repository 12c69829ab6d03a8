// Package ratelimit implements the Decision Pipeline's rate-limit stage: a
// fixed-window per-(tenant, agent) counter pair (minute + hour), held
// in-process with sync.Map buckets and no external dependency — the
// pipeline sheds load with a typed rejection rather than buffering, so a
// distributed limiter isn't needed for correctness, only for sharing state
// across replicas, which this single-process design doesn't attempt.
package ratelimit

import (
	"sync"
	"time"
)

// Config carries the per-window request ceilings.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
}

type bucket struct {
	mu          sync.Mutex
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
}

// Limiter implements pipeline.RateLimiter with fixed minute/hour windows.
type Limiter struct {
	cfg     Config
	buckets sync.Map // map[string]*bucket
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg}
}

// Allow reports whether another request for key fits within both windows,
// incrementing the counters as a side effect when it does.
func (l *Limiter) Allow(tenantID, agentName string) bool {
	key := tenantID + ":" + agentName
	raw, _ := l.buckets.LoadOrStore(key, &bucket{})
	b := raw.(*bucket)

	now := time.Now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.minuteStart) >= time.Minute {
		b.minuteStart = now
		b.minuteCount = 0
	}
	if now.Sub(b.hourStart) >= time.Hour {
		b.hourStart = now
		b.hourCount = 0
	}

	if l.cfg.RequestsPerMinute > 0 && b.minuteCount >= l.cfg.RequestsPerMinute {
		return false
	}
	if l.cfg.RequestsPerHour > 0 && b.hourCount >= l.cfg.RequestsPerHour {
		return false
	}

	b.minuteCount++
	b.hourCount++
	return true
}
