// Package catalog resolves query results into display records.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pgfe-filter/internal/domain/query"
)

// ErrUnavailable marks catalog failures the caller may retry.
var ErrUnavailable = errors.New("catalog unavailable")

// UnavailableError wraps an upstream failure with a retry hint.
type UnavailableError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("catalog unavailable (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold for every UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Item is a catalog product as stored.
type Item struct {
	ID          int64
	Title       string
	Slug        string
	Status      string
	Visibility  string
	ProductType string
	AuthorID    int64
	CreatedAt   time.Time

	RegularPrice decimal.NullDecimal
	SalePrice    decimal.NullDecimal
	Price        decimal.Decimal

	AverageRating float64
	ReviewCount   int
	TotalSales    int
	Featured      bool
	InStock       bool

	ImageURL string
	ImageAlt string
}

// Listed reports whether the item may appear in a storefront grid.
func (it Item) Listed() bool {
	if it.Status != query.StatusPublish {
		return false
	}
	for _, v := range query.VisibleInCatalog {
		if it.Visibility == v {
			return true
		}
	}
	return false
}

// OnSale reports whether a positive sale price undercuts the regular price.
func (it Item) OnSale() bool {
	if !it.SalePrice.Valid || !it.SalePrice.Decimal.IsPositive() {
		return false
	}
	if !it.RegularPrice.Valid {
		return true
	}
	return it.SalePrice.Decimal.LessThan(it.RegularPrice.Decimal)
}

// Author is the owner of an item, with the user meta vendor plugins write.
type Author struct {
	ID          int64
	DisplayName string
	Meta        map[string]string
}

// Term is a taxonomy term.
type Term struct {
	ID          int64
	Taxonomy    string
	Name        string
	Slug        string
	Description string
	ParentID    int64
	Count       int
}

// TermQuery selects the children of a taxonomy term.
type TermQuery struct {
	Taxonomy  string
	ParentID  int64
	Include   []int64
	Exclude   []int64
	HideEmpty bool
}

// Page is one page of matching item IDs in query order.
type Page struct {
	IDs   []int64
	Total int
}

// PriceRange is the price span of a query.
type PriceRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Repository is the catalog store.
type Repository interface {
	query.ExclusionResolver

	Search(ctx context.Context, args query.Args) (Page, error)
	Products(ctx context.Context, ids []int64) ([]Item, error)
	Count(ctx context.Context, args query.Args) (int, error)
	PriceRange(ctx context.Context, args query.Args) (PriceRange, error)
	ChildTerms(ctx context.Context, q TermQuery) ([]Term, error)
	Authors(ctx context.Context, ids []int64) (map[int64]Author, error)
}
