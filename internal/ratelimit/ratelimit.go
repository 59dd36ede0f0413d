// Package ratelimit tracks per-identity request allowances for
// downloads and plays. Identities come from untrusted clients, so both
// limiters compact stale entries instead of growing without bound.
package ratelimit

import (
	"sync"
	"time"
)

// maxEntries caps each limiter's table. When exceeded, the oldest
// entries are evicted first.
const maxEntries = 4096

// Decision reports the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// DownloadLimiter enforces a single cooldown window per identity since
// their last accepted download. Identities with no record are always
// allowed.
type DownloadLimiter struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewDownloadLimiter(cooldown time.Duration) *DownloadLimiter {
	return &DownloadLimiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

// Check reports whether identity may download at now. It does not
// record anything; callers call Record once the request is accepted,
// so rejected requests never extend the window.
func (l *DownloadLimiter) Check(identity string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[identity]
	if !ok {
		return Decision{Allowed: true}
	}
	if elapsed := now.Sub(last); elapsed < l.cooldown {
		return Decision{RetryAfter: l.cooldown - elapsed}
	}
	return Decision{Allowed: true}
}

// Record marks an accepted download at now.
func (l *DownloadLimiter) Record(identity string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[identity] = now
	l.compactLocked(now)
}

// Sweep drops entries whose cooldown has fully elapsed. The
// maintenance loop calls this periodically.
func (l *DownloadLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, t := range l.last {
		if now.Sub(t) >= l.cooldown {
			delete(l.last, id)
		}
	}
}

func (l *DownloadLimiter) compactLocked(now time.Time) {
	if len(l.last) <= maxEntries {
		return
	}
	for id, t := range l.last {
		if now.Sub(t) >= l.cooldown {
			delete(l.last, id)
		}
	}
	for len(l.last) > maxEntries {
		var oldest string
		var oldestAt time.Time
		for id, t := range l.last {
			if oldest == "" || t.Before(oldestAt) {
				oldest, oldestAt = id, t
			}
		}
		delete(l.last, oldest)
	}
}

type playRecord struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time
}

// PlayLimiter allows a burst of plays within a rolling window. Once
// the burst is spent a cooldown is imposed; after it elapses the
// counter resets and a fresh window starts on the next play.
type PlayLimiter struct {
	burst    int
	window   time.Duration
	cooldown time.Duration

	mu      sync.Mutex
	records map[string]*playRecord
}

func NewPlayLimiter(burst int, window, cooldown time.Duration) *PlayLimiter {
	return &PlayLimiter{
		burst:    burst,
		window:   window,
		cooldown: cooldown,
		records:  make(map[string]*playRecord),
	}
}

// Allow consumes one play for identity at now, or reports how long the
// identity must wait.
func (l *PlayLimiter) Allow(identity string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok {
		rec = &playRecord{}
		l.records[identity] = rec
		l.compactLocked(now)
	}

	if !rec.cooldownUntil.IsZero() {
		if now.Before(rec.cooldownUntil) {
			return Decision{RetryAfter: rec.cooldownUntil.Sub(now)}
		}
		rec.cooldownUntil = time.Time{}
		rec.count = 0
	}

	if rec.count == 0 || now.Sub(rec.windowStart) > l.window {
		rec.count = 0
		rec.windowStart = now
	}

	rec.count++
	if rec.count > l.burst {
		rec.cooldownUntil = now.Add(l.cooldown)
		return Decision{RetryAfter: l.cooldown}
	}
	return Decision{Allowed: true}
}

// Sweep drops records that are idle past the window and not cooling
// down. The maintenance loop calls this periodically.
func (l *PlayLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, rec := range l.records {
		if rec.cooldownUntil.IsZero() && now.Sub(rec.windowStart) > l.window {
			delete(l.records, id)
		}
	}
}

func (l *PlayLimiter) compactLocked(now time.Time) {
	if len(l.records) <= maxEntries {
		return
	}
	for id, rec := range l.records {
		if rec.cooldownUntil.IsZero() && now.Sub(rec.windowStart) > l.window {
			delete(l.records, id)
		}
	}
	for len(l.records) > maxEntries {
		var oldest string
		var oldestAt time.Time
		for id, rec := range l.records {
			if oldest == "" || rec.windowStart.Before(oldestAt) {
				oldest, oldestAt = id, rec.windowStart
			}
		}
		delete(l.records, oldest)
	}
}
