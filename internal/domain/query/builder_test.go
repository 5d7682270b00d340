package query

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pgfe-filter/internal/domain/filter"
)

// --- Mock implementations ---

type mockResolver struct {
	terms     map[int64][]int64
	vendors   map[int64][]int64
	err       error
	termCalls int
}

func (m *mockResolver) ProductIDsInTerms(_ context.Context, taxonomy string, termIDs []int64) ([]int64, error) {
	m.termCalls++
	if m.err != nil {
		return nil, m.err
	}
	if taxonomy != TaxonomyCategory {
		return nil, errors.Errorf("unexpected taxonomy %q", taxonomy)
	}
	var out []int64
	for _, id := range termIDs {
		out = append(out, m.terms[id]...)
	}
	return out, nil
}

func (m *mockResolver) ProductIDsByVendors(_ context.Context, vendorIDs []int64) ([]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []int64
	for _, id := range vendorIDs {
		out = append(out, m.vendors[id]...)
	}
	return out, nil
}

// --- Helpers ---

var fixedNow = time.Date(2026, 3, 14, 12, 30, 45, 0, time.UTC)

func newBuilder(r ExclusionResolver) *Builder {
	if r == nil {
		r = &mockResolver{}
	}
	return NewBuilder(r, WithClock(func() time.Time { return fixedNow }))
}

func build(t *testing.T, b *Builder, raw map[string]any) Args {
	t.Helper()
	a, err := b.Build(context.Background(), filter.Sanitize(raw), filter.DefaultSettings(), 1)
	require.NoError(t, err)
	return a
}

// --- Tests ---

func TestBuild_EmptyFilterSet(t *testing.T) {
	a := build(t, newBuilder(nil), nil)

	assert.Equal(t, PostTypeProduct, a.PostType)
	assert.Equal(t, StatusPublish, a.Status)
	assert.Equal(t, []string{"catalog", "visible"}, a.Visibility)
	assert.Empty(t, a.Tax)
	assert.Empty(t, a.Meta)
	assert.Empty(t, a.IncludeIDs)
	assert.Empty(t, a.ExcludeIDs)
	assert.Equal(t, Order{Field: OrderDate, Direction: filter.Desc}, a.Order)
	assert.Equal(t, 1, a.Page)
	assert.Equal(t, filter.DefaultPageSize, a.PageSize)
}

func TestBuild_SelectionPresets(t *testing.T) {
	tests := []struct {
		selection string
		order     Order
		meta      []MetaPredicate
		created   bool
	}{
		{selection: "latest", order: Order{Field: OrderDate, Direction: filter.Desc}},
		{selection: "best_selling", order: Order{Field: OrderMetaNum, MetaKey: MetaTotalSales, Direction: filter.Desc}},
		{selection: "top_rated", order: Order{Field: OrderMetaNum, MetaKey: MetaAverageRating, Direction: filter.Desc}},
		{
			selection: "featured",
			order:     Order{Field: OrderDate, Direction: filter.Desc},
			meta:      []MetaPredicate{{Key: MetaFeatured, Compare: CompareEq, Values: []string{"yes"}}},
		},
		{
			selection: "promotion",
			order:     Order{Field: OrderDate, Direction: filter.Desc},
			meta:      []MetaPredicate{{Key: MetaSalePrice, Compare: CompareGT, Number: decimal.Zero, Numeric: true}},
		},
		{selection: "new_products", order: Order{Field: OrderDate, Direction: filter.Desc}, created: true},
	}
	for _, tt := range tests {
		t.Run(tt.selection, func(t *testing.T) {
			a := build(t, newBuilder(nil), map[string]any{"selection_type": tt.selection})
			assert.Equal(t, tt.order, a.Order)
			assert.Equal(t, tt.meta, a.Meta)
			if tt.created {
				require.NotNil(t, a.CreatedAfter)
				assert.Equal(t, time.Date(2026, 2, 12, 12, 30, 0, 0, time.UTC), *a.CreatedAfter)
			} else {
				assert.Nil(t, a.CreatedAfter)
			}
		})
	}
}

func TestBuild_ExplicitOrderOverridesPreset(t *testing.T) {
	tests := []struct {
		orderby string
		order   string
		want    Order
	}{
		{orderby: "popularity", want: Order{Field: OrderMetaNum, MetaKey: MetaTotalSales, Direction: filter.Desc}},
		{orderby: "rating", want: Order{Field: OrderMetaNum, MetaKey: MetaAverageRating, Direction: filter.Desc}},
		{orderby: "price", order: "DESC", want: Order{Field: OrderMetaNum, MetaKey: MetaPrice, Direction: filter.Asc}},
		{orderby: "price-desc", want: Order{Field: OrderMetaNum, MetaKey: MetaPrice, Direction: filter.Desc}},
		{orderby: "title", want: Order{Field: OrderTitle, Direction: filter.Asc}},
		{orderby: "title", order: "desc", want: Order{Field: OrderTitle, Direction: filter.Desc}},
		{orderby: "date", order: "asc", want: Order{Field: OrderDate, Direction: filter.Asc}},
	}
	for _, tt := range tests {
		t.Run(tt.orderby+"/"+tt.order, func(t *testing.T) {
			a := build(t, newBuilder(nil), map[string]any{
				"selection_type": "best_selling",
				"orderby":        tt.orderby,
				"order":          tt.order,
			})
			assert.Equal(t, tt.want, a.Order)
		})
	}
}

func TestBuild_UnknownSortKeyUsesDefaultOrdering(t *testing.T) {
	withUnknown := build(t, newBuilder(nil), map[string]any{"orderby": "nonsense"})
	withNothing := build(t, newBuilder(nil), nil)

	assert.Equal(t, withNothing.Order, withUnknown.Order)
	assert.Equal(t, withNothing.Key(), withUnknown.Key())
}

func TestBuild_CategoryGroups(t *testing.T) {
	a := build(t, newBuilder(nil), map[string]any{
		"parent_categories":       []any{"1", "2"},
		"parent_categories_logic": "and",
		"child_categories":        []any{"5"},
		"category_filter":         []any{"9"},
	})

	require.Len(t, a.Tax, 3)
	assert.Equal(t, TaxPredicate{Taxonomy: TaxonomyCategory, Field: FieldTermID, TermIDs: []int64{1, 2}, Operator: OpAnd}, a.Tax[0])
	assert.Equal(t, TaxPredicate{Taxonomy: TaxonomyCategory, Field: FieldTermID, TermIDs: []int64{5}, Operator: OpIn}, a.Tax[1])
	assert.Equal(t, TaxPredicate{Taxonomy: TaxonomyCategory, Field: FieldTermID, TermIDs: []int64{9}, Operator: OpIn}, a.Tax[2])
}

func TestBuild_VendorsAndAttributes(t *testing.T) {
	a := build(t, newBuilder(nil), map[string]any{
		"vendor_filter": []any{"4", "3"},
		"attribute_filters": map[string]any{
			"size":  []any{"m"},
			"color": []any{"red", "blue"},
		},
		"attribute_logic": map[string]any{"size": "and"},
	})

	require.Len(t, a.Meta, 1)
	assert.Equal(t, MetaPredicate{Key: MetaVendorID, Compare: CompareIn, IDs: []int64{4, 3}}, a.Meta[0])
	require.Len(t, a.Tax, 2)
	assert.Equal(t, TaxPredicate{Taxonomy: "pa_color", Field: FieldSlug, Slugs: []string{"red", "blue"}, Operator: OpIn}, a.Tax[0])
	assert.Equal(t, TaxPredicate{Taxonomy: "pa_size", Field: FieldSlug, Slugs: []string{"m"}, Operator: OpAnd}, a.Tax[1])
}

func TestBuild_PricePredicates(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want []MetaPredicate
	}{
		{name: "none", raw: map[string]any{}},
		{
			name: "min only",
			raw:  map[string]any{"min_price": "10"},
			want: []MetaPredicate{{Key: MetaPrice, Compare: CompareGTE, Number: decimal.NewFromInt(10), Numeric: true}},
		},
		{
			name: "max only",
			raw:  map[string]any{"max_price": 50.0},
			want: []MetaPredicate{{Key: MetaPrice, Compare: CompareLTE, Number: decimal.NewFromInt(50), Numeric: true}},
		},
		{
			name: "both swapped",
			raw:  map[string]any{"min_price": 50.0, "max_price": 10.0},
			want: []MetaPredicate{
				{Key: MetaPrice, Compare: CompareGTE, Number: decimal.NewFromInt(10), Numeric: true},
				{Key: MetaPrice, Compare: CompareLTE, Number: decimal.NewFromInt(50), Numeric: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := build(t, newBuilder(nil), tt.raw)
			require.Len(t, a.Meta, len(tt.want))
			for i, want := range tt.want {
				got := a.Meta[i]
				assert.Equal(t, want.Key, got.Key)
				assert.Equal(t, want.Compare, got.Compare)
				assert.True(t, want.Number.Equal(got.Number), "got %s want %s", got.Number, want.Number)
			}
			assert.Equal(t, len(tt.want) > 0, a.HasPrice())
		})
	}
}

func TestBuild_ManualShortCircuits(t *testing.T) {
	a := build(t, newBuilder(nil), map[string]any{
		"selection_type":  "top_rated",
		"orderby":         "price",
		"manual_products": []any{"30", "10", "20"},
		"category_filter": []any{"3"},
		"vendor_filter":   []any{"8"},
		"attribute_filters": map[string]any{
			"color": []any{"red"},
		},
		"min_price": "5",
	})

	assert.Equal(t, []int64{30, 10, 20}, a.IncludeIDs)
	assert.Equal(t, Order{Field: OrderIncluded}, a.Order)
	assert.Empty(t, a.Tax)
	require.Len(t, a.Meta, 1)
	assert.Equal(t, MetaPrice, a.Meta[0].Key)
}

func TestBuild_Exclusions(t *testing.T) {
	r := &mockResolver{
		terms:   map[int64][]int64{3: {11, 12}, 4: {12, 13}},
		vendors: map[int64][]int64{9: {20, 11}},
	}
	a := build(t, newBuilder(r), map[string]any{
		"exclude_products":   []any{"40", "11"},
		"exclude_categories": []any{"3", "4"},
		"exclude_vendors":    []any{"9"},
	})

	assert.Equal(t, []int64{11, 12, 13, 20, 40}, a.ExcludeIDs)
}

func TestBuild_ExclusionsSkipResolverWhenEmpty(t *testing.T) {
	r := &mockResolver{}
	a := build(t, newBuilder(r), map[string]any{"exclude_products": []any{"2"}})

	assert.Equal(t, []int64{2}, a.ExcludeIDs)
	assert.Zero(t, r.termCalls)
}

func TestBuild_ExclusionResolverError(t *testing.T) {
	b := newBuilder(&mockResolver{err: errors.New("db down")})
	_, err := b.Build(context.Background(), filter.Sanitize(map[string]any{
		"exclude_categories": []any{"3"},
	}), filter.DefaultSettings(), 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestBuild_PageSizeFromSettings(t *testing.T) {
	s := filter.SanitizeSettings(map[string]any{"posts_per_page": "12"})
	a, err := newBuilder(nil).Build(context.Background(), filter.Set{}, s, 3)
	require.NoError(t, err)

	assert.Equal(t, 12, a.PageSize)
	assert.Equal(t, 3, a.Page)
	assert.Equal(t, 24, a.Offset())
}

func TestArgs_WithoutPriceAndSimplified(t *testing.T) {
	a := build(t, newBuilder(&mockResolver{}), map[string]any{
		"min_price":        "5",
		"max_price":        "50",
		"vendor_filter":    []any{"2"},
		"category_filter":  []any{"7"},
		"exclude_products": []any{"99"},
		"orderby":          "title",
	})

	noPrice := a.WithoutPrice()
	assert.False(t, noPrice.HasPrice())
	assert.True(t, a.HasPrice(), "original must stay untouched")
	require.Len(t, noPrice.Meta, 1)
	assert.Equal(t, MetaVendorID, noPrice.Meta[0].Key)
	assert.Equal(t, a.Tax, noPrice.Tax)

	simple := a.Simplified()
	assert.Empty(t, simple.Tax)
	assert.Empty(t, simple.Meta)
	assert.Equal(t, []int64{99}, simple.ExcludeIDs)
	assert.Equal(t, Order{Field: OrderDate, Direction: filter.Desc}, simple.Order)
	assert.Equal(t, a.PageSize, simple.PageSize)
}

func TestArgs_KeyStable(t *testing.T) {
	raw := map[string]any{
		"attribute_filters": map[string]any{"b": []any{"x"}, "a": []any{"y"}},
		"category_filter":   []any{"1"},
	}
	k1 := build(t, newBuilder(nil), raw).Key()
	k2 := build(t, newBuilder(nil), raw).Key()
	assert.Equal(t, k1, k2)

	other := build(t, newBuilder(nil), map[string]any{"category_filter": []any{"2"}}).Key()
	assert.NotEqual(t, k1, other)

	page2, err := newBuilder(nil).Build(context.Background(), filter.Sanitize(raw), filter.DefaultSettings(), 2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, page2.Key())
	assert.Equal(t, k1, page2.FirstPage().Key())
}
