package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/domain/query"
	"github.com/xenking/pgfe-filter/internal/metrics"
)

// --- Mock implementations ---

type flakyRepo struct {
	err   error
	calls int
}

func (f *flakyRepo) Search(context.Context, query.Args) (catalog.Page, error) {
	f.calls++
	if f.err != nil {
		return catalog.Page{}, f.err
	}
	return catalog.Page{IDs: []int64{1, 2}, Total: 2}, nil
}

func (f *flakyRepo) Products(context.Context, []int64) ([]catalog.Item, error) {
	f.calls++
	return nil, f.err
}

func (f *flakyRepo) Count(context.Context, query.Args) (int, error) {
	f.calls++
	return 7, f.err
}

func (f *flakyRepo) PriceRange(context.Context, query.Args) (catalog.PriceRange, error) {
	return catalog.PriceRange{}, f.err
}

func (f *flakyRepo) ChildTerms(context.Context, catalog.TermQuery) ([]catalog.Term, error) {
	return nil, f.err
}

func (f *flakyRepo) Authors(context.Context, []int64) (map[int64]catalog.Author, error) {
	return nil, f.err
}

func (f *flakyRepo) ProductIDsInTerms(context.Context, string, []int64) ([]int64, error) {
	return nil, f.err
}

func (f *flakyRepo) ProductIDsByVendors(context.Context, []int64) ([]int64, error) {
	return nil, f.err
}

// --- Tests ---

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinRequests = 2
	cfg.Timeout = time.Minute
	return cfg
}

func TestRepository_PassesThrough(t *testing.T) {
	repo := New(&flakyRepo{}, testConfig(), nil, nil)

	page, err := repo.Search(context.Background(), query.Args{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, page.IDs)

	n, err := repo.Count(context.Background(), query.Args{})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	items, err := repo.Products(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestRepository_OpensAfterFailures(t *testing.T) {
	inner := &flakyRepo{err: errors.New("connection refused")}
	m := metrics.New()
	repo := New(inner, testConfig(), nil, m)
	ctx := context.Background()

	for range 2 {
		_, err := repo.Search(ctx, query.Args{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, catalog.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, repo.State())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BreakerState.WithLabelValues("catalog")))

	_, err := repo.Search(ctx, query.Args{})
	require.ErrorIs(t, err, catalog.ErrUnavailable)
	var ue *catalog.UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, time.Minute, ue.RetryAfter)
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the store")
}

func TestRepository_CancellationDoesNotTrip(t *testing.T) {
	inner := &flakyRepo{err: context.Canceled}
	repo := New(inner, testConfig(), nil, nil)

	for range 5 {
		_, err := repo.Search(context.Background(), query.Args{})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, repo.State())
}
