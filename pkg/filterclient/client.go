// Package filterclient calls the filter API and owns the caller side retry
// policy: timeouts, 502, 503 and responses carrying a retry_after hint are
// retried with capped exponential backoff.
package filterclient

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultTimeout         = 10 * time.Second

	apiKeyHeader = "api_key"
	codeNonce    = "INVALID_NONCE"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. https://filter.example.
	BaseURL string
	// APIKey is sent in the api_key header when set.
	APIKey string
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client

	MaxRetries      uint64
	InitialInterval time.Duration
	// MaxInterval caps both the computed delay and a server hint.
	MaxInterval time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base       string
	apiKey     string
	http       *http.Client
	maxRetries uint64
	initial    time.Duration
	maxDelay   time.Duration

	mu      sync.Mutex
	nonce   string
	expires time.Time
	now     func() time.Time
}

// New creates a Client. Zero fields take the package defaults.
func New(cfg Config) *Client {
	c := &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialInterval,
		maxDelay:   cfg.MaxInterval,
		now:        time.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.initial <= 0 {
		c.initial = DefaultInitialInterval
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultMaxInterval
	}
	return c
}

// Request is the body shared by the product endpoints.
type Request struct {
	Filters  map[string]any
	Settings map[string]any
	Page     int
}

// Filter posts to /api/products/filter.
func (c *Client) Filter(ctx context.Context, req Request) (*Response, error) {
	return c.Post(ctx, "/api/products/filter", req)
}

// LoadMore posts to /api/products/load-more.
func (c *Client) LoadMore(ctx context.Context, req Request) (*Response, error) {
	return c.Post(ctx, "/api/products/load-more", req)
}

// Count posts to /api/products/count.
func (c *Client) Count(ctx context.Context, req Request) (*Response, error) {
	return c.Post(ctx, "/api/products/count", req)
}

// Post sends req to path, retrying recoverable failures. When the service
// answered at all, the last response is returned with a nil error even if it
// is a failure; callers check Response.Success. An error is returned only
// when no response was ever decoded.
func (c *Client) Post(ctx context.Context, path string, req Request) (*Response, error) {
	hint := &hintBackOff{
		BackOff: c.exponential(),
		max:     c.maxDelay,
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(hint, c.maxRetries), ctx)

	var last *Response
	op := func() error {
		nonce, err := c.currentNonce(ctx)
		if err != nil {
			if retryableErr(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}

		resp, err := c.send(ctx, http.MethodPost, path, encodeRequest(nonce, req))
		if err != nil {
			if retryableErr(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}
		last = resp
		if resp.Success {
			return nil
		}
		if resp.ErrorCode == codeNonce {
			c.dropNonce()
		}
		if !resp.Retryable() {
			return backoff.Permanent(resp)
		}
		hint.set(resp.RetryAfter)
		return resp
	}
	notify := func(err error, wait time.Duration) {
		zctx.From(ctx).Debug("Retrying filter request",
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, policy, notify)
	if last != nil {
		return last, nil
	}
	return nil, errors.Wrapf(err, "post %s", path)
}

func (c *Client) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// hintBackOff prefers a server supplied delay over the computed one, capped
// at max. The hint applies to the next wait only.
type hintBackOff struct {
	backoff.BackOff
	max  time.Duration
	hint time.Duration
}

func (b *hintBackOff) set(d time.Duration) { b.hint = d }

func (b *hintBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > 0 {
		next = b.hint
		b.hint = 0
	}
	return min(next, b.max)
}

// retryableErr reports whether a transport error is a timeout of this
// attempt rather than cancellation of ctx.
func retryableErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	resp := decodeResponse(res.StatusCode, raw)
	if resp.RetryAfter == 0 {
		if secs, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && secs > 0 {
			resp.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp, nil
}

func (c *Client) currentNonce(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.nonce != "" && c.now().Before(c.expires) {
		n := c.nonce
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	resp, err := c.send(ctx, http.MethodGet, "/api/nonce", nil)
	if err != nil {
		return "", errors.Wrap(err, "fetch nonce")
	}
	if !resp.Success {
		return "", errors.Wrap(resp, "fetch nonce")
	}

	var (
		nonce string
		ttl   int64
	)
	err = jx.DecodeBytes(resp.Data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "nonce":
			nonce, err = d.Str()
		case "expires_in":
			ttl, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil || nonce == "" {
		return "", errors.New("fetch nonce: malformed response")
	}

	c.mu.Lock()
	c.nonce = nonce
	// Refresh a little early so a token never expires in flight.
	c.expires = c.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	c.mu.Unlock()
	return nonce, nil
}

func (c *Client) dropNonce() {
	c.mu.Lock()
	c.nonce = ""
	c.mu.Unlock()
}
