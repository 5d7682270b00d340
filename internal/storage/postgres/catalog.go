package postgres

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/domain/filter"
	"github.com/xenking/pgfe-filter/internal/domain/query"
)

// Prices are read as text so that NULL and scale survive the round trip
// independently of the connection type map.
const selectProductsSQL = `SELECT id, title, slug, status, visibility, product_type, author_id, created_at,
	regular_price::text, sale_price::text, price::text,
	average_rating, review_count, total_sales, featured, in_stock, image_url, image_alt
	FROM products WHERE id = ANY($1)`

const selectAuthorsSQL = `SELECT id, display_name, meta FROM authors WHERE id = ANY($1)`

const productsInTermsSQL = `SELECT DISTINCT pt.product_id FROM product_terms pt
	JOIN terms t ON t.id = pt.term_id
	WHERE t.taxonomy = $1 AND t.id = ANY($2)
	ORDER BY pt.product_id`

const productsByVendorsSQL = `SELECT id FROM products WHERE vendor_id = ANY($1) ORDER BY id`

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository returns a CatalogRepository that uses the given
// connection.
func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Search returns one page of matching product IDs in query order, with the
// total number of matches.
func (r *CatalogRepository) Search(ctx context.Context, args query.Args) (catalog.Page, error) {
	var b sqlBuilder
	if err := b.filterArgs(args); err != nil {
		return catalog.Page{}, errors.Wrap(err, "build search")
	}
	order, err := b.orderClause(args)
	if err != nil {
		return catalog.Page{}, errors.Wrap(err, "build search")
	}
	size := args.PageSize
	if size <= 0 {
		size = filter.DefaultPageSize
	}
	sql := "SELECT p.id, count(*) OVER () AS total FROM products p" + b.whereClause() + order +
		" LIMIT " + b.arg(int64(size)) + " OFFSET " + b.arg(int64(args.Offset()))

	rows, err := r.db.Query(ctx, sql, b.args...)
	if err != nil {
		return catalog.Page{}, errors.Wrap(err, "search products")
	}
	type hit struct {
		id    int64
		total int64
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (hit, error) {
		var h hit
		err := row.Scan(&h.id, &h.total)
		return h, err
	})
	if err != nil {
		return catalog.Page{}, errors.Wrap(err, "search products")
	}

	if len(hits) == 0 {
		if args.Offset() == 0 {
			return catalog.Page{}, nil
		}
		// Past the last page the window total is lost with the rows.
		total, err := r.Count(ctx, args)
		if err != nil {
			return catalog.Page{}, err
		}
		return catalog.Page{Total: total}, nil
	}

	page := catalog.Page{IDs: make([]int64, len(hits)), Total: int(hits[0].total)}
	for i, h := range hits {
		page.IDs[i] = h.id
	}
	return page, nil
}

// Count returns the number of products matching args.
func (r *CatalogRepository) Count(ctx context.Context, args query.Args) (int, error) {
	var b sqlBuilder
	if err := b.filterArgs(args); err != nil {
		return 0, errors.Wrap(err, "build count")
	}
	var n int64
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM products p"+b.whereClause(), b.args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count products")
	}
	return int(n), nil
}

// PriceRange returns the lowest and highest positive price among products
// matching args. Both are zero when nothing matches.
func (r *CatalogRepository) PriceRange(ctx context.Context, args query.Args) (catalog.PriceRange, error) {
	var b sqlBuilder
	if err := b.filterArgs(args); err != nil {
		return catalog.PriceRange{}, errors.Wrap(err, "build price range")
	}
	b.where("p.price > 0")
	sql := "SELECT COALESCE(min(p.price), 0)::text, COALESCE(max(p.price), 0)::text FROM products p" + b.whereClause()

	var lo, hi string
	if err := r.db.QueryRow(ctx, sql, b.args...).Scan(&lo, &hi); err != nil {
		return catalog.PriceRange{}, errors.Wrap(err, "price range")
	}
	var (
		pr  catalog.PriceRange
		err error
	)
	if pr.Min, err = decimal.NewFromString(lo); err != nil {
		return catalog.PriceRange{}, errors.Wrap(err, "parse min price")
	}
	if pr.Max, err = decimal.NewFromString(hi); err != nil {
		return catalog.PriceRange{}, errors.Wrap(err, "parse max price")
	}
	return pr, nil
}

// Products loads the products with the given IDs. Unknown IDs are absent
// from the result, which is in no particular order.
func (r *CatalogRepository) Products(ctx context.Context, ids []int64) ([]catalog.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, selectProductsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	return items, nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		it            catalog.Item
		regular, sale *string
		price         string
	)
	err := row.Scan(
		&it.ID, &it.Title, &it.Slug, &it.Status, &it.Visibility, &it.ProductType, &it.AuthorID, &it.CreatedAt,
		&regular, &sale, &price,
		&it.AverageRating, &it.ReviewCount, &it.TotalSales, &it.Featured, &it.InStock, &it.ImageURL, &it.ImageAlt,
	)
	if err != nil {
		return catalog.Item{}, err
	}

	if it.RegularPrice, err = nullDecimal(regular); err != nil {
		return catalog.Item{}, errors.Wrapf(err, "product %d regular price", it.ID)
	}
	if it.SalePrice, err = nullDecimal(sale); err != nil {
		return catalog.Item{}, errors.Wrapf(err, "product %d sale price", it.ID)
	}
	if it.Price, err = decimal.NewFromString(price); err != nil {
		return catalog.Item{}, errors.Wrapf(err, "product %d price", it.ID)
	}
	return it, nil
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// Authors loads the authors with the given IDs keyed by ID.
func (r *CatalogRepository) Authors(ctx context.Context, ids []int64) (map[int64]catalog.Author, error) {
	out := make(map[int64]catalog.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, selectAuthorsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load authors")
	}
	authors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Author, error) {
		var (
			a    catalog.Author
			meta []byte
		)
		if err := row.Scan(&a.ID, &a.DisplayName, &meta); err != nil {
			return a, err
		}
		m, err := decodeMeta(meta)
		if err != nil {
			return a, errors.Wrapf(err, "author %d meta", a.ID)
		}
		a.Meta = m
		return a, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load authors")
	}
	for _, a := range authors {
		out[a.ID] = a
	}
	return out, nil
}

// decodeMeta reads a flat JSON object. Non-string scalars are kept in their
// JSON text form and nested values are skipped.
func decodeMeta(raw []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}
	d := jx.DecodeBytes(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			if err != nil {
				return err
			}
			out[key] = v
		case jx.Number:
			n, err := d.Num()
			if err != nil {
				return err
			}
			out[key] = n.String()
		case jx.Bool:
			v, err := d.Bool()
			if err != nil {
				return err
			}
			out[key] = strconv.FormatBool(v)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChildTerms lists the direct children of q.ParentID ordered by name, with
// the number of listed products assigned to each.
func (r *CatalogRepository) ChildTerms(ctx context.Context, q catalog.TermQuery) ([]catalog.Term, error) {
	var b sqlBuilder
	join := "LEFT JOIN product_terms pt ON pt.term_id = t.id" +
		" LEFT JOIN products p ON p.id = pt.product_id AND p.status = " + b.arg(query.StatusPublish) +
		" AND p.visibility = ANY(" + b.arg(query.VisibleInCatalog) + ")"

	taxonomy := q.Taxonomy
	if taxonomy == "" {
		taxonomy = query.TaxonomyCategory
	}
	b.where("t.taxonomy = " + b.arg(taxonomy))
	b.where("t.parent_id = " + b.arg(q.ParentID))
	if len(q.Include) > 0 {
		b.where("t.id = ANY(" + b.arg(q.Include) + ")")
	}
	if len(q.Exclude) > 0 {
		b.where("t.id <> ALL(" + b.arg(q.Exclude) + ")")
	}

	sql := "SELECT t.id, t.taxonomy, t.name, t.slug, t.description, t.parent_id, count(p.id) FROM terms t " +
		join + b.whereClause() + " GROUP BY t.id"
	if q.HideEmpty {
		sql += " HAVING count(p.id) > 0"
	}
	sql += " ORDER BY t.name ASC, t.id ASC"

	rows, err := r.db.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, errors.Wrap(err, "child terms")
	}
	terms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Term, error) {
		var (
			t     catalog.Term
			count int64
		)
		err := row.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Description, &t.ParentID, &count)
		t.Count = int(count)
		return t, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "child terms")
	}
	return terms, nil
}

// ProductIDsInTerms returns the products assigned to any of the terms.
func (r *CatalogRepository) ProductIDsInTerms(ctx context.Context, taxonomy string, termIDs []int64) ([]int64, error) {
	if len(termIDs) == 0 {
		return nil, nil
	}
	return r.collectIDs(ctx, "products in terms", productsInTermsSQL, taxonomy, termIDs)
}

// ProductIDsByVendors returns the products sold by any of the vendors.
func (r *CatalogRepository) ProductIDsByVendors(ctx context.Context, vendorIDs []int64) ([]int64, error) {
	if len(vendorIDs) == 0 {
		return nil, nil
	}
	return r.collectIDs(ctx, "products by vendors", productsByVendorsSQL, vendorIDs)
}

func (r *CatalogRepository) collectIDs(ctx context.Context, op, sql string, args ...any) ([]int64, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	return ids, nil
}
