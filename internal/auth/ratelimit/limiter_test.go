package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter()
	l.now = clock.now
	return l, clock
}

func TestAllow_EnforcesLimit(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		if !l.Allow("k", 5, time.Minute) {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if l.Allow("k", 5, time.Minute) {
		t.Fatal("sixth request within the window must be rejected")
	}
}

func TestAllow_SlidingWindow(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.Allow("k", 5, time.Minute)
		clock.advance(10 * time.Second)
	}
	// 50s elapsed; the first request leaves the window at 60s.
	if l.Allow("k", 5, time.Minute) {
		t.Fatal("window still full, request must be rejected")
	}

	clock.advance(11 * time.Second)
	if !l.Allow("k", 5, time.Minute) {
		t.Fatal("oldest request left the window, request must be admitted")
	}
}

func TestAllow_RejectionDoesNotConsume(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 3; i++ {
		l.Allow("k", 3, time.Minute)
	}
	// Hammering while limited must not push the reset further out.
	for i := 0; i < 10; i++ {
		l.Allow("k", 3, time.Minute)
		clock.advance(time.Second)
	}

	clock.advance(51 * time.Second) // 61s after the first admitted request
	if !l.Allow("k", 3, time.Minute) {
		t.Fatal("rejected attempts must not extend the window")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		l.Allow("a", 3, time.Minute)
	}
	if l.Allow("a", 3, time.Minute) {
		t.Fatal("key a should be limited")
	}
	if !l.Allow("b", 3, time.Minute) {
		t.Fatal("key b must be unaffected by key a")
	}
}

func TestInfo(t *testing.T) {
	l, clock := newTestLimiter()

	info := l.Info("k", 5, time.Minute)
	if info.Remaining != 5 || info.Limit != 5 || info.Window != 60 {
		t.Fatalf("unexpected empty-bucket info: %+v", info)
	}
	if info.Reset != clock.t.Unix() {
		t.Fatalf("empty bucket reset should be now, got %d want %d", info.Reset, clock.t.Unix())
	}

	l.Allow("k", 5, time.Minute)
	l.Allow("k", 5, time.Minute)

	info = l.Info("k", 5, time.Minute)
	if info.Remaining != 3 {
		t.Fatalf("expected remaining 3, got %d", info.Remaining)
	}
	wantReset := clock.t.Add(time.Minute).Unix()
	if info.Reset != wantReset {
		t.Fatalf("expected reset %d, got %d", wantReset, info.Reset)
	}

	// Info must not record a request.
	for i := 0; i < 3; i++ {
		if !l.Allow("k", 5, time.Minute) {
			t.Fatal("Info consumed budget")
		}
	}
}

func TestClear(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		l.Allow("k", 3, time.Minute)
	}
	l.Clear("k")
	if !l.Allow("k", 3, time.Minute) {
		t.Fatal("cleared bucket must admit again")
	}
}

func TestSubjectKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:4567"

	if got := SubjectKey(42, r); got != "user:42" {
		t.Fatalf("expected user key, got %q", got)
	}
	if got := SubjectKey(0, r); got != "ip:10.1.2.3" {
		t.Fatalf("expected ip key, got %q", got)
	}
}

func TestClientIP_ForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:999"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(r); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
