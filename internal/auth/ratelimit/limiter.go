package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// reapIdle is how long a bucket may sit without requests before the lazy
// reaper drops it.
const reapIdle = time.Hour

// Info describes the state of one bucket for response headers.
type Info struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`  // Epoch second the oldest retained request leaves the window.
	Window    int   `json:"window"` // Window length in seconds.
}

// Limiter is a process-local sliding-window request counter. It is best
// effort abuse dampening, not a hard security boundary: state is lost on
// restart and is not shared between processes.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string][]time.Time
	lastReap time.Time
	now      func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		buckets:  make(map[string][]time.Time),
		lastReap: time.Now(),
		now:      time.Now,
	}
}

// Allow records and admits a request under key iff fewer than limit requests
// were already made within the trailing window.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	times := evict(l.buckets[key], now.Add(-window))
	if len(times) >= limit {
		l.buckets[key] = times
		return false
	}

	l.buckets[key] = append(times, now)
	l.reapLocked(now)
	return true
}

// Info reports the bucket state without recording a request.
func (l *Limiter) Info(key string, limit int, window time.Duration) Info {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	times := evict(l.buckets[key], now.Add(-window))
	l.buckets[key] = times

	remaining := limit - len(times)
	if remaining < 0 {
		remaining = 0
	}

	reset := now.Unix()
	if len(times) > 0 {
		reset = times[0].Add(window).Unix()
	}

	return Info{
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
		Window:    int(window.Seconds()),
	}
}

// Clear forgets a bucket entirely.
func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// reapLocked drops buckets with no requests in the last hour to bound memory.
// Runs at most once per reap interval; caller holds the lock.
func (l *Limiter) reapLocked(now time.Time) {
	if now.Sub(l.lastReap) < reapIdle {
		return
	}
	l.lastReap = now

	cutoff := now.Add(-reapIdle)
	for key, times := range l.buckets {
		times = evict(times, cutoff)
		if len(times) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = times
		}
	}
}

func evict(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// SubjectKey builds the rate-limit key for a request: the authenticated user
// when known, otherwise the client IP (first hop of X-Forwarded-For).
func SubjectKey(userID int64, r *http.Request) string {
	if userID > 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	return "ip:" + ClientIP(r)
}

// ClientIP extracts the best-effort client address from a request.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
