// Package breaker guards the catalog store with a circuit breaker.
package breaker

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/domain/query"
	"github.com/xenking/pgfe-filter/internal/metrics"
)

// Config controls when the breaker opens.
type Config struct {
	Name string
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open. It is also the retry hint
	// reported to callers while open.
	Timeout time.Duration
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Name:         "catalog",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var _ catalog.Repository = (*Repository)(nil)

// Repository wraps a catalog.Repository. While the breaker is open calls fail
// fast with *catalog.UnavailableError.
type Repository struct {
	next    catalog.Repository
	cb      *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

// New wraps next. m may be nil.
func New(next catalog.Repository, cfg Config, lg *zap.Logger, m *metrics.Metrics) *Repository {
	if lg == nil {
		lg = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(name, stateToFloat(to))
		},
		// Caller cancellation says nothing about catalog health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	m.SetBreakerState(cfg.Name, 0)
	return &Repository{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker[any](settings),
		timeout: cfg.Timeout,
	}
}

// State returns the current breaker state.
func (r *Repository) State() gobreaker.State { return r.cb.State() }

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func execute[T any](r *Repository, fn func() (T, error)) (T, error) {
	v, err := r.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &catalog.UnavailableError{RetryAfter: r.timeout, Err: err}
		}
		return zero, err
	}
	return v.(T), nil
}

func (r *Repository) Search(ctx context.Context, args query.Args) (catalog.Page, error) {
	return execute(r, func() (catalog.Page, error) { return r.next.Search(ctx, args) })
}

func (r *Repository) Products(ctx context.Context, ids []int64) ([]catalog.Item, error) {
	return execute(r, func() ([]catalog.Item, error) { return r.next.Products(ctx, ids) })
}

func (r *Repository) Count(ctx context.Context, args query.Args) (int, error) {
	return execute(r, func() (int, error) { return r.next.Count(ctx, args) })
}

func (r *Repository) PriceRange(ctx context.Context, args query.Args) (catalog.PriceRange, error) {
	return execute(r, func() (catalog.PriceRange, error) { return r.next.PriceRange(ctx, args) })
}

func (r *Repository) ChildTerms(ctx context.Context, q catalog.TermQuery) ([]catalog.Term, error) {
	return execute(r, func() ([]catalog.Term, error) { return r.next.ChildTerms(ctx, q) })
}

func (r *Repository) Authors(ctx context.Context, ids []int64) (map[int64]catalog.Author, error) {
	return execute(r, func() (map[int64]catalog.Author, error) { return r.next.Authors(ctx, ids) })
}

func (r *Repository) ProductIDsInTerms(ctx context.Context, taxonomy string, termIDs []int64) ([]int64, error) {
	return execute(r, func() ([]int64, error) { return r.next.ProductIDsInTerms(ctx, taxonomy, termIDs) })
}

func (r *Repository) ProductIDsByVendors(ctx context.Context, vendorIDs []int64) ([]int64, error) {
	return execute(r, func() ([]int64, error) { return r.next.ProductIDsByVendors(ctx, vendorIDs) })
}
