package query

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pgfe-filter/internal/domain/filter"
)

// NewProductsWindow is the age limit of the new_products selection.
const NewProductsWindow = 30 * 24 * time.Hour

// ExclusionResolver expands category and vendor exclusions into product IDs.
type ExclusionResolver interface {
	ProductIDsInTerms(ctx context.Context, taxonomy string, termIDs []int64) ([]int64, error)
	ProductIDsByVendors(ctx context.Context, vendorIDs []int64) ([]int64, error)
}

// Builder turns a sanitized filter set into Args.
type Builder struct {
	exclusions ExclusionResolver
	now        func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the time source used by time-window presets.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder returns a Builder resolving exclusions through ex.
func NewBuilder(ex ExclusionResolver, opts ...BuilderOption) *Builder {
	b := &Builder{exclusions: ex, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build composes the query for page (1-based) of the filtered set. It fails
// only when exclusions cannot be resolved.
func (b *Builder) Build(ctx context.Context, f filter.Set, s filter.Settings, page int) (Args, error) {
	a := Args{
		PostType:   PostTypeProduct,
		Status:     StatusPublish,
		Visibility: slices.Clone(VisibleInCatalog),
		Search:     f.Search,
		Page:       max(page, 1),
		PageSize:   max(1, min(s.PageSize, filter.MaxPageSize)),
	}

	a.Order = b.applySelection(&a, f.Selection)
	if f.OrderBy != "" {
		a.Order = explicitOrder(f.OrderBy, f.Order)
	}

	if len(f.Manual) > 0 {
		// Manual curation replaces every catalog predicate except price.
		a.IncludeIDs = slices.Clone(f.Manual)
		a.Order = Order{Field: OrderIncluded}
	} else {
		a.Tax = append(a.Tax, categoryPredicates(f)...)
		if len(f.Vendors) > 0 {
			a.Meta = append(a.Meta, MetaPredicate{
				Key:     MetaVendorID,
				Compare: CompareIn,
				IDs:     slices.Clone(f.Vendors),
			})
		}
		a.Tax = append(a.Tax, attributePredicates(f)...)
	}

	a.Meta = append(a.Meta, pricePredicates(f)...)

	excluded, err := b.resolveExclusions(ctx, f)
	if err != nil {
		return Args{}, err
	}
	a.ExcludeIDs = excluded

	return a, nil
}

// applySelection adds the preset predicates to a and returns its ordering.
func (b *Builder) applySelection(a *Args, sel filter.SelectionType) Order {
	switch sel {
	case filter.SelectionBestSelling:
		return Order{Field: OrderMetaNum, MetaKey: MetaTotalSales, Direction: filter.Desc}
	case filter.SelectionFeatured:
		a.Meta = append(a.Meta, MetaPredicate{Key: MetaFeatured, Compare: CompareEq, Values: []string{"yes"}})
	case filter.SelectionTopRated:
		return Order{Field: OrderMetaNum, MetaKey: MetaAverageRating, Direction: filter.Desc}
	case filter.SelectionNewProducts:
		after := b.now().Add(-NewProductsWindow).Truncate(time.Minute).UTC()
		a.CreatedAfter = &after
	case filter.SelectionPromotion:
		a.Meta = append(a.Meta, MetaPredicate{Key: MetaSalePrice, Compare: CompareGT, Number: decimal.Zero, Numeric: true})
	}
	return Order{Field: OrderDate, Direction: filter.Desc}
}

func explicitOrder(key filter.SortKey, dir filter.Direction) Order {
	withDefault := func(d filter.Direction) filter.Direction {
		if dir == "" {
			return d
		}
		return dir
	}
	switch key {
	case filter.SortTitle:
		return Order{Field: OrderTitle, Direction: withDefault(filter.Asc)}
	case filter.SortMenuOrder:
		return Order{Field: OrderMenuOrder, Direction: withDefault(filter.Asc)}
	case filter.SortPopularity:
		return Order{Field: OrderMetaNum, MetaKey: MetaTotalSales, Direction: filter.Desc}
	case filter.SortRating:
		return Order{Field: OrderMetaNum, MetaKey: MetaAverageRating, Direction: filter.Desc}
	case filter.SortPrice:
		return Order{Field: OrderMetaNum, MetaKey: MetaPrice, Direction: filter.Asc}
	case filter.SortPriceDesc:
		return Order{Field: OrderMetaNum, MetaKey: MetaPrice, Direction: filter.Desc}
	default:
		return Order{Field: OrderDate, Direction: withDefault(filter.Desc)}
	}
}

func operatorOf(l filter.Logic) Operator {
	if l == filter.LogicAnd {
		return OpAnd
	}
	return OpIn
}

func categoryPredicates(f filter.Set) []TaxPredicate {
	groups := []struct {
		ids   []int64
		logic filter.Logic
	}{
		{f.ParentCategories, f.ParentLogic},
		{f.ChildCategories, f.ChildLogic},
		{f.Categories, f.CategoryLogic},
	}
	var out []TaxPredicate
	for _, g := range groups {
		if len(g.ids) == 0 {
			continue
		}
		out = append(out, TaxPredicate{
			Taxonomy: TaxonomyCategory,
			Field:    FieldTermID,
			TermIDs:  slices.Clone(g.ids),
			Operator: operatorOf(g.logic),
		})
	}
	return out
}

func attributePredicates(f filter.Set) []TaxPredicate {
	var out []TaxPredicate
	for _, name := range f.AttributeNames() {
		slugs := f.Attributes[name]
		if len(slugs) == 0 {
			continue
		}
		out = append(out, TaxPredicate{
			Taxonomy: AttributePrefix + name,
			Field:    FieldSlug,
			Slugs:    slices.Clone(slugs),
			Operator: operatorOf(f.LogicFor(name)),
		})
	}
	return out
}

func pricePredicates(f filter.Set) []MetaPredicate {
	var out []MetaPredicate
	if f.MinPrice != nil {
		out = append(out, MetaPredicate{
			Key: MetaPrice, Compare: CompareGTE, Number: decimal.NewFromFloat(*f.MinPrice), Numeric: true,
		})
	}
	if f.MaxPrice != nil {
		out = append(out, MetaPredicate{
			Key: MetaPrice, Compare: CompareLTE, Number: decimal.NewFromFloat(*f.MaxPrice), Numeric: true,
		})
	}
	return out
}

func (b *Builder) resolveExclusions(ctx context.Context, f filter.Set) ([]int64, error) {
	ids := slices.Clone(f.ExcludeProducts)
	if len(f.ExcludeCategories) > 0 {
		inTerms, err := b.exclusions.ProductIDsInTerms(ctx, TaxonomyCategory, f.ExcludeCategories)
		if err != nil {
			return nil, errors.Wrap(err, "resolve excluded categories")
		}
		ids = append(ids, inTerms...)
	}
	if len(f.ExcludeVendors) > 0 {
		byVendor, err := b.exclusions.ProductIDsByVendors(ctx, f.ExcludeVendors)
		if err != nil {
			return nil, errors.Wrap(err, "resolve excluded vendors")
		}
		ids = append(ids, byVendor...)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}
