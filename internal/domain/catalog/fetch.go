package catalog

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pgfe-filter/internal/domain/query"
)

// Result is a formatted page of records.
type Result struct {
	Records []Record
	// Total is the number of items matching the query across all pages.
	Total int
	// Failures counts IDs that were skipped: unresolved, unlisted or not
	// formattable.
	Failures int
}

// Fetcher runs queries and formats the matching items.
type Fetcher struct {
	repo      Repository
	formatter *Formatter
}

// NewFetcher returns a Fetcher reading from repo.
func NewFetcher(repo Repository, formatter *Formatter) *Fetcher {
	return &Fetcher{repo: repo, formatter: formatter}
}

// Fetch runs args and formats the resulting page.
func (f *Fetcher) Fetch(ctx context.Context, args query.Args) (Result, error) {
	page, err := f.repo.Search(ctx, args)
	if err != nil {
		return Result{}, errors.Wrap(err, "search")
	}
	return f.Resolve(ctx, page)
}

// Resolve batch-loads the items of page and formats them in page order.
// Per-item problems are logged and counted without failing the batch.
func (f *Fetcher) Resolve(ctx context.Context, page Page) (Result, error) {
	res := Result{Total: page.Total}
	if len(page.IDs) == 0 {
		return res, nil
	}

	items, err := f.repo.Products(ctx, page.IDs)
	if err != nil {
		return Result{}, errors.Wrap(err, "load products")
	}
	byID := make(map[int64]Item, len(items))
	var authorIDs []int64
	for _, it := range items {
		byID[it.ID] = it
		if it.AuthorID > 0 {
			authorIDs = append(authorIDs, it.AuthorID)
		}
	}

	authors := map[int64]Author{}
	if len(authorIDs) > 0 {
		slices.Sort(authorIDs)
		authors, err = f.repo.Authors(ctx, slices.Compact(authorIDs))
		if err != nil {
			return Result{}, errors.Wrap(err, "load authors")
		}
	}

	lg := zctx.From(ctx)
	res.Records = make([]Record, 0, len(page.IDs))
	for _, id := range page.IDs {
		it, ok := byID[id]
		if !ok {
			lg.Debug("Skipping unresolved item", zap.Int64("id", id))
			res.Failures++
			continue
		}
		if !it.Listed() {
			lg.Debug("Skipping unlisted item", zap.Int64("id", id), zap.String("status", it.Status))
			res.Failures++
			continue
		}
		var author *Author
		if a, ok := authors[it.AuthorID]; ok {
			author = &a
		}
		rec, err := f.formatter.Format(it, author)
		if err != nil {
			lg.Warn("Skipping item", zap.Int64("id", id), zap.Error(err))
			res.Failures++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}
