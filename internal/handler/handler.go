// Package handler exposes the filter pipeline over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pgfe-filter/internal/domain/auth"
	"github.com/xenking/pgfe-filter/internal/domain/filter"
	"github.com/xenking/pgfe-filter/internal/envelope"
	"github.com/xenking/pgfe-filter/internal/metrics"
	"github.com/xenking/pgfe-filter/internal/pipeline"
	"github.com/xenking/pgfe-filter/pkg/httpmiddleware"
)

// Pipeline runs the filter operations.
type Pipeline interface {
	Filter(ctx context.Context, req pipeline.Request) (envelope.Object, error)
	LoadMore(ctx context.Context, req pipeline.Request) (envelope.Object, error)
	Count(ctx context.Context, req pipeline.Request) (envelope.Object, error)
	PriceRange(ctx context.Context, req pipeline.Request) (envelope.Object, error)
	ChildCategories(ctx context.Context, req pipeline.ChildRequest) (envelope.Object, error)
}

// Fragments renders the HTML shown in place of a failed grid.
type Fragments interface {
	ErrorFragment(message string, retry bool) string
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Debug adds the underlying error to failure envelopes.
	Debug bool
}

// Handler serves the /api routes.
type Handler struct {
	pipeline  Pipeline
	fragments Fragments
	nonces    *auth.NonceManager
	keys      *auth.Authenticator
	metrics   *metrics.Metrics
	debug     bool
}

// New constructs a Handler. keys and m may be nil.
func New(
	cfg Config,
	p Pipeline,
	fragments Fragments,
	nonces *auth.NonceManager,
	keys *auth.Authenticator,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		pipeline:  p,
		fragments: fragments,
		nonces:    nonces,
		keys:      keys,
		metrics:   m,
		debug:     cfg.Debug,
	}
}

// Mount registers the /api routes on r. limit runs after authentication so
// that it can key on the caller identity; nil disables rate limiting.
func (h *Handler) Mount(r chi.Router, limit httpmiddleware.Middleware) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)
		if limit != nil {
			r.Use(limit)
		}

		r.Get("/nonce", h.Nonce)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireNonce)
			r.Post("/products/filter", h.FilterProducts)
			r.Post("/products/load-more", h.LoadMore)
			r.Post("/products/count", h.CountProducts)
			r.Post("/products/price-range", h.PriceRange)
			r.Post("/categories/children", h.ChildCategories)
			r.Post("/log/js-error", h.LogJSError)
		})
	})
}

// RateLimitKey keys the rate limiter on identity and the client IP that
// clientIP resolves. A nil clientIP uses the direct peer address.
func RateLimitKey(clientIP func(*http.Request) string) func(*http.Request) string {
	if clientIP == nil {
		clientIP = httpmiddleware.ClientIP
	}
	return func(r *http.Request) string {
		return auth.IdentityFrom(r.Context()) + "|" + clientIP(r)
	}
}

// WriteRateLimited answers a limited request with a RATE_LIMITED envelope.
func (h *Handler) WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	h.metrics.IncRateLimited()
	h.fail(w, r, envelope.RateLimited(retryAfter))
}

// WritePanic answers a recovered panic with an INTERNAL_ERROR envelope.
func (h *Handler) WritePanic(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, envelope.Internal(errors.New("panic")))
}

type paramsKey struct{}

func withParams(ctx context.Context, p params) context.Context {
	return context.WithValue(ctx, paramsKey{}, p)
}

func paramsFrom(ctx context.Context) params {
	p, _ := ctx.Value(paramsKey{}).(params)
	if p == nil {
		return params{}
	}
	return p
}

func (h *Handler) ok(w http.ResponseWriter, data envelope.Object) {
	writeJSON(w, http.StatusOK, envelope.Success(data))
}

// fail writes err as a failure envelope. Errors that are not an
// *envelope.Error are reported as internal errors.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *envelope.Error
	if !errors.As(err, &e) {
		e = envelope.Internal(err)
	}

	lg := zctx.From(r.Context())
	if e.Status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("code", e.Code), zap.Error(e.Err))
	} else {
		lg.Debug("Request rejected", zap.String("code", e.Code), zap.Error(e.Err))
	}

	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(envelope.RetryAfterSeconds(e.RetryAfter), 10))
	}
	html := h.fragments.ErrorFragment(e.Message, e.Recoverable())
	writeJSON(w, e.Status, envelope.Failure(e, html, h.debug))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// filterRequest reads the shared filters/settings/page fields.
func filterRequest(r *http.Request) pipeline.Request {
	p := paramsFrom(r.Context())
	req := pipeline.Request{
		Identity: auth.IdentityFrom(r.Context()),
		Filters:  p.object("filters"),
		Settings: p.object("settings"),
	}
	if page, ok := filter.Int(p["page"]); ok && page > 0 {
		req.Page = int(page)
	}
	return req
}
