package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttemptsPerMinute is the default rate limit for failed auth attempts per IP.
	DefaultMaxAttemptsPerMinute = 10

	// DefaultMaxTrackedIPs bounds the number of IPs tracked at once.
	DefaultMaxTrackedIPs = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter tracks per-IP failed authentication attempts. Each IP gets a
// token bucket refilling at maxPerMinute per minute with a burst of
// maxPerMinute.
type RateLimiter struct {
	mu            sync.Mutex
	entries       map[string]*ipEntry
	maxPerMinute  int
	maxTrackedIPs int
	now           func() time.Time
	cancel        context.CancelFunc
}

type RateLimiterOption func(*RateLimiter)

// WithMaxTrackedIPs caps how many IPs are tracked; the least recently seen IP
// is evicted when the cap is reached.
func WithMaxTrackedIPs(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.maxTrackedIPs = n
		}
	}
}

// NewRateLimiter creates a new per-IP rate limiter with the given max attempts
// per minute. Pass 0 to use DefaultMaxAttemptsPerMinute. Stale entries are
// swept until ctx is done or Stop is called.
func NewRateLimiter(ctx context.Context, maxPerMinute int, opts ...RateLimiterOption) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxAttemptsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		entries:       make(map[string]*ipEntry),
		maxPerMinute:  maxPerMinute,
		maxTrackedIPs: DefaultMaxTrackedIPs,
		now:           time.Now,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(rl)
	}
	go rl.cleanup(ctx)
	return rl
}

// RecordFailureAndAllow records a failed attempt for ip and returns whether the
// attempt is still within the configured rate limit.
func (rl *RateLimiter) RecordFailureAndAllow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e := rl.getOrCreateEntryLocked(ip, now)
	return e.limiter.AllowN(now, 1)
}

// Tracked returns the number of IPs currently holding a bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *RateLimiter) getOrCreateEntryLocked(ip string, now time.Time) *ipEntry {
	e, ok := rl.entries[ip]
	if !ok {
		if len(rl.entries) >= rl.maxTrackedIPs {
			rl.evictOldestLocked()
		}
		r := rate.Limit(float64(rl.maxPerMinute) / 60.0)
		e = &ipEntry{limiter: rate.NewLimiter(r, rl.maxPerMinute)}
		rl.entries[ip] = e
	}
	e.lastSeen = now
	return e
}

// Stop cancels the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

func (rl *RateLimiter) removeStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip, e := range rl.entries {
		if now.Sub(e.lastSeen) > staleThreshold {
			delete(rl.entries, ip)
		}
	}
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldestIP string
	var oldestTime time.Time
	for ip, e := range rl.entries {
		if oldestIP == "" || e.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = e.lastSeen
		}
	}
	if oldestIP != "" {
		delete(rl.entries, oldestIP)
	}
}

// ExtractIP extracts the IP address from a RemoteAddr string, stripping the port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr // already just an IP
	}
	return host
}
