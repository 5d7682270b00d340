package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key.
type Store interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// Store holds the counters. If nil, an in-process sliding window is used.
	Store Store
	// OnLimited writes the rejection. If nil, a plain 429 is sent.
	OnLimited func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)
}

// entry tracks request counts across two adjacent windows for the sliding
// window algorithm.
type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process sliding window counter.
type MemoryStore struct {
	max     int
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryStore returns a MemoryStore allowing limit requests per window.
func NewMemoryStore(limit int, window time.Duration) *MemoryStore {
	return &MemoryStore{
		max:     limit,
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Allow checks whether the request identified by key is within the rate
// limit and counts it when it is.
func (s *MemoryStore) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{currStart: now}
		s.entries[key] = e
	}

	// Rotate window if the current window has elapsed.
	if now.Sub(e.currStart) >= s.window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(s.window)
		if now.Sub(e.prevStart) >= 2*s.window {
			e.prevCount = 0
		}
	}

	// Weight the previous window by its overlap with the sliding window.
	elapsed := now.Sub(e.currStart)
	overlap := max(0, 1.0-elapsed.Seconds()/s.window.Seconds())
	effective := e.prevCount*overlap + e.currCount
	d := Decision{ResetAt: e.currStart.Add(s.window)}

	if effective >= float64(s.max) {
		return d, nil
	}

	e.currCount++
	d.Allowed = true
	d.Remaining = max(0, int(float64(s.max)-effective-1))
	return d, nil
}

// cleanup removes entries whose windows have fully expired.
func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if now.Sub(e.currStart) >= 2*s.window {
			delete(s.entries, key)
		}
	}
}

// StartCleanup launches a background goroutine that periodically removes
// expired entries. It stops when ctx is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context) {
	interval := 2 * s.window
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.cleanup(now)
			}
		}
	}()
}

var _ Store = (*RedisStore)(nil)

// RedisStore is a fixed window counter shared by every instance using the
// same Redis server. Counts are advisory: INCR and EXPIRE are pipelined, not
// scripted.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisStore returns a RedisStore allowing limit requests per window.
func NewRedisStore(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, max: limit, window: window}
}

// Allow counts the request in the current window.
func (s *RedisStore) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(s.window)
	k := s.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, errors.Wrap(err, "count request")
	}

	n := int(incr.Val())
	return Decision{
		Allowed:   n <= s.max,
		Remaining: max(0, s.max-n),
		ResetAt:   start.Add(s.window),
	}, nil
}

// RateLimit returns a middleware that enforces a per-key rate limit. Every
// response includes X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers. Store failures let the request through.
//
// With the default store no cleanup goroutine is started. Use
// RateLimitWithCleanup for automatic eviction of stale entries.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(cfg.Max, cfg.Window)
	}
	return rateLimitMiddleware(cfg)
}

// RateLimitWithCleanup is like RateLimit but, for the default in-process
// store, evicts expired entries every 2x the window until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Store == nil {
		s := NewMemoryStore(cfg.Max, cfg.Window)
		s.StartCleanup(ctx)
		cfg.Store = s
	}
	return rateLimitMiddleware(cfg)
}

func rateLimitMiddleware(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = func(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Store.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store failed, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(0, d.ResetAt.Sub(now))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				cfg.OnLimited(w, r, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host of RemoteAddr. Forwarding headers are ignored;
// use TrustedProxies.ClientIP behind a reverse proxy.
func ClientIP(r *http.Request) string {
	return remoteHost(r)
}

// TrustedProxies resolves the client IP of requests that arrive through
// known reverse proxies. A nil or empty set trusts no one.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies parses CIDRs or bare addresses.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return nil, errors.Wrapf(err, "trusted proxy %q", e)
			}
			t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(e)
		if err != nil {
			return nil, errors.Wrapf(err, "trusted proxy %q", e)
		}
		t.prefixes = append(t.prefixes, prefix.Masked())
	}
	return t, nil
}

func (t *TrustedProxies) trusted(ip string) bool {
	if t == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP honours X-Forwarded-For and X-Real-IP only when the direct peer
// is a trusted proxy. X-Forwarded-For is walked from the right and the first
// hop that is not itself trusted wins, so a client cannot pick its own key
// by prepending addresses.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.trusted(peer) {
		return peer
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !t.trusted(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
