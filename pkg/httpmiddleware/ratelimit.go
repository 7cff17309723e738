package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// Key extracts the bucket key. Defaults to ClientIP.
	Key func(*http.Request) string
}

type window struct {
	start      time.Time
	count      float64
	prevCount  float64
	prevActive bool
}

// Limiter counts requests per key over two adjacent fixed windows and
// weights the previous one by its remaining overlap.
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*window
}

// NewLimiter returns a Limiter. Max below 1 is treated as 1.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.Max < 1 {
		cfg.Max = 1
	}
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*window)}
}

// Allow records one request for key at now. It reports the remaining
// budget, when the current window ends and whether the request fits.
func (l *Limiter) Allow(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.buckets[key]
	if w == nil {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.buckets[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.cfg.Window {
		// The previous window only counts when it is directly adjacent.
		w.prevActive = elapsed < 2*l.cfg.Window
		w.prevCount = w.count
		w.count = 0
		w.start = now.Truncate(l.cfg.Window)
	}

	used := w.count
	if w.prevActive {
		overlap := 1 - float64(now.Sub(w.start))/float64(l.cfg.Window)
		used += w.prevCount * math.Max(overlap, 0)
	}
	reset = w.start.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.count++
	return max(l.cfg.Max-int(math.Ceil(used+1)), 0), reset, true
}

// Run evicts idle buckets every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.buckets {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.buckets, key)
		}
	}
}

// RateLimit rejects requests over the limiter's budget with 429 and sets
// the X-RateLimit-* headers on every response.
func RateLimit(l *Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			remaining, reset, ok := l.Allow(l.cfg.Key(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				retry := math.Ceil(math.Max(reset.Sub(now).Seconds(), 0))
				h.Set("Retry-After", strconv.Itoa(int(retry)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
