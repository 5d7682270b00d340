package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/products/filter", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := serve(handler, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:9999", nil).Code)
	}

	w := serve(handler, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimit_OnLimited(t *testing.T) {
	var got time.Duration
	handler := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		OnLimited: func(w http.ResponseWriter, _ *http.Request, retryAfter time.Duration) {
			got = retryAfter
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false}`))
		},
	})(okHandler())

	require.Equal(t, http.StatusOK, serve(handler, "10.0.0.3:1", nil).Code)
	w := serve(handler, "10.0.0.3:1", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false}`, w.Body.String())
	assert.Positive(t, got)
	assert.LessOrEqual(t, got, time.Minute)
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name   string
		cfg    RateLimitConfig
		first  func() (string, http.Header)
		second func() (string, http.Header)
		status int
	}{
		{
			name:   "different IPs are independent",
			first:  func() (string, http.Header) { return "10.0.0.1:1234", nil },
			second: func() (string, http.Header) { return "10.0.0.2:1234", nil },
			status: http.StatusOK,
		},
		{
			name:   "same IP on another port is limited",
			first:  func() (string, http.Header) { return "10.0.0.1:1234", nil },
			second: func() (string, http.Header) { return "10.0.0.1:5678", nil },
			status: http.StatusTooManyRequests,
		},
		{
			name: "X-Forwarded-For from an untrusted peer is ignored",
			first: func() (string, http.Header) {
				return "10.0.0.1:1234", http.Header{"X-Forwarded-For": {"203.0.113.50"}}
			},
			second: func() (string, http.Header) {
				return "10.0.0.1:1234", http.Header{"X-Forwarded-For": {"203.0.113.51"}}
			},
			status: http.StatusTooManyRequests,
		},
		{
			name: "client hop behind trusted proxies is the key",
			cfg:  RateLimitConfig{KeyFunc: mustTrust(t, "192.168.0.0/16").ClientIP},
			first: func() (string, http.Header) {
				return "192.168.1.1:4444", http.Header{"X-Forwarded-For": {"203.0.113.50, 192.168.1.9"}}
			},
			second: func() (string, http.Header) {
				return "192.168.1.2:5555", http.Header{"X-Forwarded-For": {"198.51.100.4, 203.0.113.50"}}
			},
			status: http.StatusTooManyRequests,
		},
		{
			name: "custom key func",
			cfg: RateLimitConfig{KeyFunc: func(r *http.Request) string {
				return r.Header.Get("Api_key")
			}},
			first: func() (string, http.Header) {
				return "10.0.0.1:1", http.Header{"Api_key": {"key-a"}}
			},
			second: func() (string, http.Header) {
				return "10.0.0.1:1", http.Header{"Api_key": {"key-b"}}
			},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Max = 1
			cfg.Window = time.Minute
			handler := RateLimit(cfg)(okHandler())

			addr, h := tt.first()
			require.Equal(t, http.StatusOK, serve(handler, addr, h).Code)
			addr, h = tt.second()
			assert.Equal(t, tt.status, serve(handler, addr, h).Code)
		})
	}
}

func TestRateLimit_StoreFailureAllows(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Store:  failingStore{},
	})(okHandler())

	for range 3 {
		w := serve(handler, "10.0.0.9:1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	s := NewMemoryStore(1, time.Second)
	now := time.Unix(1_700_000_000, 0)

	d, err := s.Allow(context.Background(), "k", now)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	s.cleanup(now.Add(3 * time.Second))
	s.mu.Lock()
	assert.Empty(t, s.entries)
	s.mu.Unlock()

	d, err = s.Allow(context.Background(), "k", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore(rdb, "pgfe:rl:", 2, time.Minute)
	ctx := context.Background()
	now := time.Unix(1_700_000_040, 0)

	d, err := s.Allow(ctx, "1.2.3.4", now)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, now.Truncate(time.Minute).Add(time.Minute), d.ResetAt)

	d, err = s.Allow(ctx, "1.2.3.4", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	d, err = s.Allow(ctx, "1.2.3.4", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Another key has its own counter.
	d, err = s.Allow(ctx, "5.6.7.8", now)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	key := "pgfe:rl:1.2.3.4:1700000040"
	assert.True(t, mr.Exists(key))
	assert.Positive(t, mr.TTL(key))
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, err := NewRedisStore(rdb, "rl:", 1, time.Minute).Allow(context.Background(), "k", time.Now())
	assert.Error(t, err)
}

// --- Mock implementations ---

type failingStore struct{}

func (failingStore) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	proxies := mustTrust(t, "10.0.0.0/8", "192.0.2.1")

	tests := []struct {
		name    string
		proxies *TrustedProxies
		remote  string
		header  http.Header
		want    string
	}{
		{
			name:    "nil set uses the peer",
			proxies: nil,
			remote:  "10.1.1.1:80",
			header:  http.Header{"X-Forwarded-For": {"203.0.113.5"}},
			want:    "10.1.1.1",
		},
		{
			name:    "untrusted peer cannot spoof",
			proxies: proxies,
			remote:  "198.51.100.7:80",
			header:  http.Header{"X-Forwarded-For": {"203.0.113.5"}, "X-Real-Ip": {"203.0.113.6"}},
			want:    "198.51.100.7",
		},
		{
			name:    "rightmost untrusted hop wins",
			proxies: proxies,
			remote:  "10.1.1.1:80",
			header:  http.Header{"X-Forwarded-For": {"6.6.6.6, 203.0.113.5, 10.2.2.2"}},
			want:    "203.0.113.5",
		},
		{
			name:    "hops across repeated headers",
			proxies: proxies,
			remote:  "192.0.2.1:80",
			header:  http.Header{"X-Forwarded-For": {"203.0.113.5", "10.2.2.2"}},
			want:    "203.0.113.5",
		},
		{
			name:    "all hops trusted picks the first",
			proxies: proxies,
			remote:  "10.1.1.1:80",
			header:  http.Header{"X-Forwarded-For": {"10.3.3.3, 10.2.2.2"}},
			want:    "10.3.3.3",
		},
		{
			name:    "X-Real-IP from a trusted peer",
			proxies: proxies,
			remote:  "10.1.1.1:80",
			header:  http.Header{"X-Real-Ip": {"203.0.113.8"}},
			want:    "203.0.113.8",
		},
		{
			name:    "no headers",
			proxies: proxies,
			remote:  "10.1.1.1:80",
			want:    "10.1.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, vv := range tt.header {
				for _, v := range vv {
					req.Header.Add(k, v)
				}
			}
			assert.Equal(t, tt.want, tt.proxies.ClientIP(req))
		})
	}
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	for _, entry := range []string{"10.0.0.0/33", "proxy.internal"} {
		_, err := ParseTrustedProxies([]string{entry})
		assert.Error(t, err, entry)
	}
}

func mustTrust(t *testing.T, entries ...string) *TrustedProxies {
	t.Helper()
	p, err := ParseTrustedProxies(entries)
	require.NoError(t, err)
	return p
}
