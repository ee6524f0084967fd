package middleware

import (
	"context"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, maxPerMinute int, opts ...RateLimiterOption) (*RateLimiter, *time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rl := NewRateLimiter(ctx, maxPerMinute, opts...)
	t.Cleanup(rl.Stop)

	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	rl.mu.Lock()
	rl.now = func() time.Time { return now }
	rl.mu.Unlock()
	return rl, &now
}

func TestRateLimiter_AllowsUpToBurst(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 3)

	for i := range 3 {
		if !rl.RecordFailureAndAllow("10.0.0.1") {
			t.Fatalf("failure %d should still be allowed", i+1)
		}
	}
	if rl.RecordFailureAndAllow("10.0.0.1") {
		t.Fatal("fourth failure should be rate limited")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl, now := newTestRateLimiter(t, 2)

	rl.RecordFailureAndAllow("10.0.0.1")
	rl.RecordFailureAndAllow("10.0.0.1")
	if rl.RecordFailureAndAllow("10.0.0.1") {
		t.Fatal("third failure should be rate limited")
	}

	// Two per minute refills one token every 30s.
	*now = now.Add(31 * time.Second)
	if !rl.RecordFailureAndAllow("10.0.0.1") {
		t.Fatal("failure after refill should be allowed")
	}
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 2)

	for range 3 {
		rl.RecordFailureAndAllow("10.0.0.1")
	}
	if !rl.RecordFailureAndAllow("10.0.0.2") {
		t.Fatal("10.0.0.2 should not be rate limited")
	}
}

func TestRateLimiter_DefaultMaxAttempts(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 0)

	for i := range DefaultMaxAttemptsPerMinute {
		if !rl.RecordFailureAndAllow("10.0.0.1") {
			t.Fatalf("failure %d should be allowed under the default limit", i+1)
		}
	}
	if rl.RecordFailureAndAllow("10.0.0.1") {
		t.Fatal("should be rate limited after default max attempts")
	}
}

func TestRateLimiter_MaxTrackedIPs(t *testing.T) {
	rl, now := newTestRateLimiter(t, 5, WithMaxTrackedIPs(3))

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		rl.RecordFailureAndAllow(ip)
		*now = now.Add(time.Second)
	}

	if got := rl.Tracked(); got != 3 {
		t.Fatalf("Tracked() = %d, want 3", got)
	}
	rl.mu.Lock()
	_, oldest := rl.entries["1.1.1.1"]
	rl.mu.Unlock()
	if oldest {
		t.Fatal("expected least recently seen IP to be evicted")
	}
}

func TestRateLimiter_RemoveStale(t *testing.T) {
	rl, now := newTestRateLimiter(t, 5)

	rl.RecordFailureAndAllow("stale.ip")
	*now = now.Add(10 * time.Minute)
	rl.RecordFailureAndAllow("fresh.ip")

	rl.removeStale()

	if got := rl.Tracked(); got != 1 {
		t.Fatalf("Tracked() = %d, want only the fresh entry", got)
	}
}

func TestRateLimiter_StopCancelsCleanup(t *testing.T) {
	rl := NewRateLimiter(context.Background(), 5)
	rl.Stop()
	rl.Stop()
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"", ""},
	}
	for _, tt := range tests {
		got := ExtractIP(tt.input)
		if got != tt.want {
			t.Errorf("ExtractIP(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
