// Package pipeline runs a storefront filter request end to end: sanitize,
// build the query, fetch and format the page, render it and assemble the
// response data.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pgfe-filter/internal/cache"
	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/domain/filter"
	"github.com/xenking/pgfe-filter/internal/domain/query"
	"github.com/xenking/pgfe-filter/internal/envelope"
	"github.com/xenking/pgfe-filter/internal/metrics"
	"github.com/xenking/pgfe-filter/internal/render"
)

const tracerName = "github.com/xenking/pgfe-filter/internal/pipeline"

// DefaultRetryAfter is the retry hint for upstream failures that carry none.
const DefaultRetryAfter = 5 * time.Second

// Cache kinds.
const (
	kindSearch     = "search"
	kindCount      = "count"
	kindPriceRange = "price_range"
)

// Request is one filter request after transport decoding.
type Request struct {
	// Identity scopes the cached results.
	Identity string
	Filters  map[string]any
	Settings map[string]any
	// Page is 1-based. Zero means the first page.
	Page int
}

// ChildRequest selects the child categories of a parent.
type ChildRequest struct {
	ParentID  int64
	ShowCount bool
	Include   []int64
	Exclude   []int64
}

// Config holds the behavioral knobs of the Service.
type Config struct {
	// CacheTTL is passed to the cache on every write.
	CacheTTL time.Duration
	// RetryAfter is the retry hint for upstream failures without one.
	RetryAfter time.Duration
	// DisableFallback turns off the simplified query retry in Filter.
	DisableFallback bool
	// BaseURL prefixes category links.
	BaseURL string
}

// Service is the filter pipeline. It is safe for concurrent use; each call
// is independent.
type Service struct {
	repo     catalog.Repository
	builder  *query.Builder
	fetcher  *catalog.Fetcher
	renderer *render.Renderer
	cache    cache.Cache
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores query results in c.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics records operations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracerProvider creates spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithBuilder replaces the query builder, mostly to pin its clock in tests.
func WithBuilder(b *query.Builder) Option {
	return func(s *Service) { s.builder = b }
}

// New returns a Service reading from repo.
func New(repo catalog.Repository, formatter *catalog.Formatter, renderer *render.Renderer, cfg Config, opts ...Option) *Service {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	s := &Service{
		repo:     repo,
		builder:  query.NewBuilder(repo),
		fetcher:  catalog.NewFetcher(repo, formatter),
		renderer: renderer,
		cache:    cache.Noop{},
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		cfg:      cfg,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Renderer returns the renderer used for grids and error fragments.
func (s *Service) Renderer() *render.Renderer { return s.renderer }

// Filter renders the grid for a filter set. Any returned error is an
// *envelope.Error.
func (s *Service) Filter(ctx context.Context, req Request) (_ envelope.Object, rerr error) {
	ctx, done := s.start(ctx, "filter")
	defer func() { done(rerr) }()

	f := filter.Sanitize(req.Filters)
	st := filter.SanitizeSettings(req.Settings)

	args, err := s.builder.Build(ctx, f, st, req.Page)
	if err != nil {
		return nil, s.upstream(err)
	}

	page, fellBack, err := s.searchWithFallback(ctx, req.Identity, args)
	if err != nil {
		return nil, s.upstream(err)
	}
	res, err := s.fetcher.Resolve(ctx, page)
	if err != nil {
		return nil, s.upstream(err)
	}
	s.metrics.AddSkipped(res.Failures)

	html, err := s.renderer.Grid(res.Records, st)
	if err != nil {
		return nil, envelope.RenderFailed(err)
	}

	data := envelope.Object{
		{Name: "html", Value: html},
		{Name: "count", Value: len(res.Records)},
		{Name: "filters_applied", Value: f.Applied()},
	}
	if fellBack {
		data = append(data, envelope.Field{Name: "fallback", Value: true})
	}
	return data, nil
}

// LoadMore renders the cards of the next page without the grid wrapper.
func (s *Service) LoadMore(ctx context.Context, req Request) (_ envelope.Object, rerr error) {
	ctx, done := s.start(ctx, "load_more")
	defer func() { done(rerr) }()

	f := filter.Sanitize(req.Filters)
	st := filter.SanitizeSettings(req.Settings)

	args, err := s.builder.Build(ctx, f, st, req.Page)
	if err != nil {
		return nil, s.upstream(err)
	}
	page, err := s.search(ctx, req.Identity, args)
	if err != nil {
		return nil, s.upstream(err)
	}
	res, err := s.fetcher.Resolve(ctx, page)
	if err != nil {
		return nil, s.upstream(err)
	}
	s.metrics.AddSkipped(res.Failures)

	html, err := s.renderer.Cards(res.Records, st)
	if err != nil {
		return nil, envelope.RenderFailed(err)
	}

	totalPages := (res.Total + args.PageSize - 1) / args.PageSize
	return envelope.Object{
		{Name: "html", Value: html},
		{Name: "has_more", Value: args.Page < totalPages},
		{Name: "current_page", Value: args.Page},
		{Name: "total_pages", Value: totalPages},
		{Name: "found_products", Value: len(res.Records)},
	}, nil
}

// Count returns the number of products matching the filter set.
func (s *Service) Count(ctx context.Context, req Request) (_ envelope.Object, rerr error) {
	ctx, done := s.start(ctx, "count")
	defer func() { done(rerr) }()

	args, err := s.builder.Build(ctx, filter.Sanitize(req.Filters), filter.SanitizeSettings(req.Settings), 1)
	if err != nil {
		return nil, s.upstream(err)
	}

	key := cache.Key(kindCount, args.Key(), req.Identity)
	n, err := cached(ctx, s, kindCount, key, encodeCount, decodeCount, func() (int, error) {
		return s.repo.Count(ctx, args)
	})
	if err != nil {
		return nil, s.upstream(err)
	}
	return envelope.Object{{Name: "count", Value: n}}, nil
}

// PriceRange returns the price span of the filter set with its own price
// bounds ignored.
func (s *Service) PriceRange(ctx context.Context, req Request) (_ envelope.Object, rerr error) {
	ctx, done := s.start(ctx, "price_range")
	defer func() { done(rerr) }()

	args, err := s.builder.Build(ctx, filter.Sanitize(req.Filters), filter.SanitizeSettings(req.Settings), 1)
	if err != nil {
		return nil, s.upstream(err)
	}
	args = args.WithoutPrice()

	key := cache.Key(kindPriceRange, args.Key(), req.Identity)
	pr, err := cached(ctx, s, kindPriceRange, key, encodePriceRange, decodePriceRange, func() (catalog.PriceRange, error) {
		return s.repo.PriceRange(ctx, args)
	})
	if err != nil {
		return nil, s.upstream(err)
	}
	return envelope.Object{
		{Name: "min_price", Value: pr.Min},
		{Name: "max_price", Value: pr.Max},
	}, nil
}

// ChildCategories lists the non-empty children of a product category.
func (s *Service) ChildCategories(ctx context.Context, req ChildRequest) (_ envelope.Object, rerr error) {
	ctx, done := s.start(ctx, "child_categories")
	defer func() { done(rerr) }()

	terms, err := s.repo.ChildTerms(ctx, catalog.TermQuery{
		Taxonomy:  query.TaxonomyCategory,
		ParentID:  req.ParentID,
		Include:   req.Include,
		Exclude:   req.Exclude,
		HideEmpty: true,
	})
	if err != nil {
		return nil, s.upstream(err)
	}

	out := make([]envelope.Object, 0, len(terms))
	for _, t := range terms {
		o := envelope.Object{
			{Name: "id", Value: t.ID},
			{Name: "name", Value: t.Name},
			{Name: "slug", Value: t.Slug},
			{Name: "description", Value: t.Description},
			{Name: "parent", Value: t.ParentID},
			{Name: "link", Value: s.cfg.BaseURL + "/product-category/" + t.Slug + "/"},
		}
		if req.ShowCount {
			o = append(o, envelope.Field{Name: "count", Value: t.Count})
		}
		out = append(out, o)
	}
	return envelope.Object{
		{Name: "categories", Value: out},
		{Name: "parent_id", Value: req.ParentID},
	}, nil
}

// searchWithFallback runs args and, when the catalog fails, the simplified
// query once.
func (s *Service) searchWithFallback(ctx context.Context, identity string, args query.Args) (catalog.Page, bool, error) {
	page, err := s.search(ctx, identity, args)
	if err == nil {
		return page, false, nil
	}
	if s.cfg.DisableFallback || ctx.Err() != nil {
		return catalog.Page{}, false, err
	}

	lg := zctx.From(ctx)
	lg.Warn("Catalog query failed, trying simplified query", zap.Error(err))
	trace.SpanFromContext(ctx).AddEvent("fallback")

	page, ferr := s.search(ctx, identity, args.Simplified())
	if ferr != nil {
		s.metrics.IncFallback("failed")
		lg.Warn("Simplified query failed", zap.Error(ferr))
		return catalog.Page{}, false, err
	}
	s.metrics.IncFallback("served")
	return page, true, nil
}

func (s *Service) search(ctx context.Context, identity string, args query.Args) (catalog.Page, error) {
	key := cache.Key(kindSearch, args.Key(), identity)
	return cached(ctx, s, kindSearch, key, encodePage, decodePage, func() (catalog.Page, error) {
		return s.repo.Search(ctx, args)
	})
}

// cached returns the value stored under key or computes and stores it.
// Cache failures are logged and never fail the request.
func cached[T any](
	ctx context.Context,
	s *Service,
	kind, key string,
	encode func(T) []byte,
	decode func([]byte) (T, error),
	load func() (T, error),
) (T, error) {
	lg := zctx.From(ctx)

	raw, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		lg.Warn("Cache read failed", zap.String("kind", kind), zap.Error(err))
		s.metrics.IncCache(kind, "error")
	case ok:
		v, err := decode(raw)
		if err == nil {
			s.metrics.IncCache(kind, "hit")
			return v, nil
		}
		lg.Warn("Dropping undecodable cache entry", zap.String("kind", kind), zap.Error(err))
		s.metrics.IncCache(kind, "error")
	default:
		s.metrics.IncCache(kind, "miss")
	}

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	if err := s.cache.Set(ctx, key, encode(v), s.cfg.CacheTTL); err != nil {
		lg.Warn("Cache write failed", zap.String("kind", kind), zap.Error(err))
	}
	return v, nil
}

// upstream converts a catalog failure into the recoverable envelope error.
func (s *Service) upstream(err error) *envelope.Error {
	retry := s.cfg.RetryAfter
	var ue *catalog.UnavailableError
	if errors.As(err, &ue) && ue.RetryAfter > 0 {
		retry = ue.RetryAfter
	}
	return envelope.Unavailable(retry, err)
}

// start opens the operation span and returns the function that records its
// outcome.
func (s *Service) start(ctx context.Context, op string) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "pipeline."+op, trace.WithAttributes(attribute.String("pgfe.operation", op)))
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
			var ee *envelope.Error
			if errors.As(err, &ee) {
				outcome = strings.ToLower(ee.Code)
				span.SetAttributes(attribute.String("pgfe.error_code", ee.Code))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			zctx.From(ctx).Error("Pipeline operation failed", zap.String("operation", op), zap.Error(err))
		}
		span.End()
		s.metrics.ObserveOperation(op, outcome, time.Since(begin))
	}
}
