package catalog

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pgfe-filter/internal/domain/query"
)

// --- Mock implementations ---

type mockRepo struct {
	page       Page
	searchErr  error
	items      []Item
	productErr error
	authors    map[int64]Author
	authorErr  error

	requestedIDs    []int64
	requestedAuthor []int64
}

func (m *mockRepo) Search(context.Context, query.Args) (Page, error) {
	return m.page, m.searchErr
}

func (m *mockRepo) Products(_ context.Context, ids []int64) ([]Item, error) {
	m.requestedIDs = ids
	return m.items, m.productErr
}

func (m *mockRepo) Authors(_ context.Context, ids []int64) (map[int64]Author, error) {
	m.requestedAuthor = ids
	return m.authors, m.authorErr
}

func (m *mockRepo) Count(context.Context, query.Args) (int, error) { return m.page.Total, nil }

func (m *mockRepo) PriceRange(context.Context, query.Args) (PriceRange, error) {
	return PriceRange{}, nil
}

func (m *mockRepo) ChildTerms(context.Context, TermQuery) ([]Term, error) { return nil, nil }

func (m *mockRepo) ProductIDsInTerms(context.Context, string, []int64) ([]int64, error) {
	return nil, nil
}

func (m *mockRepo) ProductIDsByVendors(context.Context, []int64) ([]int64, error) { return nil, nil }

// --- Tests ---

func itemWith(id int64, mutate func(*Item)) Item {
	it := baseItem()
	it.ID = id
	if mutate != nil {
		mutate(&it)
	}
	return it
}

func TestFetch_PreservesPageOrder(t *testing.T) {
	repo := &mockRepo{
		page: Page{IDs: []int64{3, 1, 2}, Total: 10},
		items: []Item{
			itemWith(1, nil),
			itemWith(2, nil),
			itemWith(3, nil),
		},
		authors: map[int64]Author{7: {ID: 7, DisplayName: "Jody"}},
	}
	f := NewFetcher(repo, newTestFormatter(t))

	res, err := f.Fetch(context.Background(), query.Args{})
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, int64(3), res.Records[0].ID)
	assert.Equal(t, int64(1), res.Records[1].ID)
	assert.Equal(t, int64(2), res.Records[2].ID)
	assert.Equal(t, 10, res.Total)
	assert.Zero(t, res.Failures)
	assert.Equal(t, []int64{7}, repo.requestedAuthor)
	assert.Equal(t, "Jody", res.Records[0].Vendor.Name)
}

func TestFetch_SkipsAndCountsFailures(t *testing.T) {
	repo := &mockRepo{
		page: Page{IDs: []int64{1, 2, 3, 4, 5}, Total: 5},
		items: []Item{
			itemWith(1, nil),
			itemWith(2, func(it *Item) { it.Status = "draft" }),
			itemWith(3, func(it *Item) { it.Visibility = "hidden" }),
			itemWith(5, func(it *Item) { it.Title = "" }),
		},
	}
	f := NewFetcher(repo, newTestFormatter(t))

	res, err := f.Fetch(context.Background(), query.Args{})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(1), res.Records[0].ID)
	assert.Equal(t, 4, res.Failures)
}

func TestFetch_EmptyPage(t *testing.T) {
	repo := &mockRepo{page: Page{}}
	res, err := NewFetcher(repo, newTestFormatter(t)).Fetch(context.Background(), query.Args{})
	require.NoError(t, err)

	assert.Empty(t, res.Records)
	assert.Nil(t, repo.requestedIDs, "no batch load for an empty page")
}

func TestFetch_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		repo *mockRepo
	}{
		{name: "search", repo: &mockRepo{searchErr: errors.New("boom")}},
		{name: "products", repo: &mockRepo{page: Page{IDs: []int64{1}}, productErr: errors.New("boom")}},
		{
			name: "authors",
			repo: &mockRepo{page: Page{IDs: []int64{1}}, items: []Item{itemWith(1, nil)}, authorErr: errors.New("boom")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFetcher(tt.repo, newTestFormatter(t)).Fetch(context.Background(), query.Args{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("circuit open")
	err := errors.Wrap(&UnavailableError{RetryAfter: 30, Err: cause}, "search")

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.EqualValues(t, 30, ue.RetryAfter)
}
