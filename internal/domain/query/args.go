// Package query builds the structured catalog query for a sanitized filter
// set.
package query

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pgfe-filter/internal/domain/filter"
)

// Catalog vocabulary shared with the storage layer.
const (
	PostTypeProduct = "product"
	StatusPublish   = "publish"

	TaxonomyCategory = "product_cat"
	AttributePrefix  = "pa_"

	MetaPrice         = "_price"
	MetaSalePrice     = "_sale_price"
	MetaFeatured      = "_featured"
	MetaTotalSales    = "total_sales"
	MetaAverageRating = "_wc_average_rating"
	MetaVendorID      = "_wcv_vendor_id"
)

// VisibleInCatalog lists the visibility values a listed product may carry.
var VisibleInCatalog = []string{"catalog", "visible"}

// Operator combines the terms of a taxonomy predicate.
type Operator string

const (
	OpIn  Operator = "IN"
	OpAnd Operator = "AND"
)

// TermField selects how a taxonomy predicate addresses terms.
type TermField string

const (
	FieldTermID TermField = "term_id"
	FieldSlug   TermField = "slug"
)

// TaxPredicate constrains items by taxonomy terms. Exactly one of TermIDs and
// Slugs is set, matching Field.
type TaxPredicate struct {
	Taxonomy string
	Field    TermField
	TermIDs  []int64
	Slugs    []string
	Operator Operator
}

// Compare is a meta predicate comparison.
type Compare string

const (
	CompareEq  Compare = "="
	CompareIn  Compare = "IN"
	CompareGTE Compare = ">="
	CompareLTE Compare = "<="
	CompareGT  Compare = ">"
)

// MetaPredicate constrains items by a meta key. Numeric predicates compare
// against Number, the rest against Values.
type MetaPredicate struct {
	Key     string
	Compare Compare
	Values  []string
	IDs     []int64
	Number  decimal.Decimal
	Numeric bool
}

// OrderField is the storage-level ordering.
type OrderField string

const (
	OrderDate      OrderField = "date"
	OrderTitle     OrderField = "title"
	OrderMenuOrder OrderField = "menu_order"
	OrderMetaNum   OrderField = "meta_value_num"
	// OrderIncluded keeps the order of Args.IncludeIDs.
	OrderIncluded OrderField = "post__in"
)

// Order is the ordering of a query.
type Order struct {
	Field     OrderField
	MetaKey   string
	Direction filter.Direction
}

// Args is the structured catalog query.
type Args struct {
	PostType   string
	Status     string
	Visibility []string

	Tax  []TaxPredicate
	Meta []MetaPredicate

	CreatedAfter *time.Time
	Search       string

	IncludeIDs []int64
	ExcludeIDs []int64

	Order    Order
	Page     int
	PageSize int
}

// Offset returns the number of items skipped before the current page.
func (a Args) Offset() int {
	if a.Page <= 1 {
		return 0
	}
	return (a.Page - 1) * a.PageSize
}

// HasPrice reports whether a price predicate is present.
func (a Args) HasPrice() bool {
	return slices.ContainsFunc(a.Meta, func(m MetaPredicate) bool { return m.Key == MetaPrice })
}

// WithoutPrice returns a copy of the query without price predicates. It is
// the query the price range is computed over.
func (a Args) WithoutPrice() Args {
	out := a.clone()
	out.Meta = slices.DeleteFunc(out.Meta, func(m MetaPredicate) bool { return m.Key == MetaPrice })
	return out
}

// Simplified returns the fallback query: the latest visible products on the
// same page, with exclusions kept and every other predicate dropped.
func (a Args) Simplified() Args {
	return Args{
		PostType:   a.PostType,
		Status:     a.Status,
		Visibility: slices.Clone(a.Visibility),
		ExcludeIDs: slices.Clone(a.ExcludeIDs),
		Order:      Order{Field: OrderDate, Direction: filter.Desc},
		Page:       a.Page,
		PageSize:   a.PageSize,
	}
}

// FirstPage returns a copy of the query positioned on page one.
func (a Args) FirstPage() Args {
	out := a.clone()
	out.Page = 1
	return out
}

func (a Args) clone() Args {
	out := a
	out.Visibility = slices.Clone(a.Visibility)
	out.IncludeIDs = slices.Clone(a.IncludeIDs)
	out.ExcludeIDs = slices.Clone(a.ExcludeIDs)
	if a.CreatedAfter != nil {
		t := *a.CreatedAfter
		out.CreatedAfter = &t
	}
	out.Tax = slices.Clone(a.Tax)
	for i, p := range out.Tax {
		out.Tax[i].TermIDs = slices.Clone(p.TermIDs)
		out.Tax[i].Slugs = slices.Clone(p.Slugs)
	}
	out.Meta = slices.Clone(a.Meta)
	for i, p := range out.Meta {
		out.Meta[i].Values = slices.Clone(p.Values)
		out.Meta[i].IDs = slices.Clone(p.IDs)
	}
	return out
}
