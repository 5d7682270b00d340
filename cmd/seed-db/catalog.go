package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
)

type authorJSON struct {
	ID          int64             `json:"id"`
	DisplayName string            `json:"display_name"`
	Meta        map[string]string `json:"meta"`
}

type termJSON struct {
	ID          int64  `json:"id"`
	Taxonomy    string `json:"taxonomy"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	ParentID    int64  `json:"parent_id"`
}

type productJSON struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	Slug          string           `json:"slug"`
	Content       string           `json:"content"`
	Status        string           `json:"status"`
	Visibility    string           `json:"visibility"`
	Type          string           `json:"type"`
	AuthorID      int64            `json:"author_id"`
	VendorID      int64            `json:"vendor_id"`
	RegularPrice  *decimal.Decimal `json:"regular_price"`
	SalePrice     *decimal.Decimal `json:"sale_price"`
	TotalSales    int              `json:"total_sales"`
	AverageRating float64          `json:"average_rating"`
	ReviewCount   int              `json:"review_count"`
	Featured      bool             `json:"featured"`
	InStock       *bool            `json:"in_stock"`
	MenuOrder     int              `json:"menu_order"`
	ImageURL      string           `json:"image_url"`
	ImageAlt      string           `json:"image_alt"`
	Meta          map[string]any   `json:"meta"`
	CreatedAt     time.Time        `json:"created_at"`
	TermIDs       []int64          `json:"term_ids"`
}

type catalogJSON struct {
	Authors  []authorJSON  `json:"authors"`
	Terms    []termJSON    `json:"terms"`
	Products []productJSON `json:"products"`
}

// readCatalog reads a catalog fixture. Files ending in .gz are decompressed.
func readCatalog(path string) (*catalogJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return decodeCatalog(r)
}

func decodeCatalog(r io.Reader) (*catalogJSON, error) {
	var cat catalogJSON
	if err := json.NewDecoder(r).Decode(&cat); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	for i, p := range cat.Products {
		if p.ID <= 0 {
			return nil, errors.Errorf("product %d: id must be positive", i)
		}
		if strings.TrimSpace(p.Title) == "" {
			return nil, errors.Errorf("product %d: title is required", p.ID)
		}
	}
	for i, t := range cat.Terms {
		if t.ID <= 0 || t.Taxonomy == "" || t.Slug == "" {
			return nil, errors.Errorf("term %d: id, taxonomy and slug are required", i)
		}
	}
	return &cat, nil
}

// price is the active price: the sale price when set, the regular price
// otherwise.
func (p productJSON) price() decimal.Decimal {
	switch {
	case p.SalePrice != nil:
		return *p.SalePrice
	case p.RegularPrice != nil:
		return *p.RegularPrice
	default:
		return decimal.Zero
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

const (
	upsertAuthorSQL = `INSERT INTO authors (id, display_name, meta) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, meta = EXCLUDED.meta`

	upsertTermSQL = `INSERT INTO terms (id, taxonomy, name, slug, description, parent_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET taxonomy = EXCLUDED.taxonomy, name = EXCLUDED.name,
		slug = EXCLUDED.slug, description = EXCLUDED.description, parent_id = EXCLUDED.parent_id`

	upsertProductSQL = `INSERT INTO products (id, title, slug, content, status, visibility, product_type,
		author_id, vendor_id, regular_price, sale_price, price, total_sales, average_rating, review_count,
		featured, in_stock, menu_order, image_url, image_alt, meta, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, slug = EXCLUDED.slug, content = EXCLUDED.content,
		status = EXCLUDED.status, visibility = EXCLUDED.visibility, product_type = EXCLUDED.product_type,
		author_id = EXCLUDED.author_id, vendor_id = EXCLUDED.vendor_id, regular_price = EXCLUDED.regular_price,
		sale_price = EXCLUDED.sale_price, price = EXCLUDED.price, total_sales = EXCLUDED.total_sales,
		average_rating = EXCLUDED.average_rating, review_count = EXCLUDED.review_count,
		featured = EXCLUDED.featured, in_stock = EXCLUDED.in_stock, menu_order = EXCLUDED.menu_order,
		image_url = EXCLUDED.image_url, image_alt = EXCLUDED.image_alt, meta = EXCLUDED.meta,
		created_at = EXCLUDED.created_at`

	deleteProductTermsSQL = `DELETE FROM product_terms WHERE product_id = $1`
	insertProductTermSQL  = `INSERT INTO product_terms (product_id, term_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
)

// beginner starts transactions; *pgxpool.Pool satisfies it.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// seedCatalog upserts the fixture in one transaction. Term assignments of
// seeded products are replaced.
func seedCatalog(ctx context.Context, db beginner, cat *catalogJSON) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := upsertCatalog(ctx, tx, cat); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func upsertCatalog(ctx context.Context, tx pgx.Tx, cat *catalogJSON) error {
	for _, a := range cat.Authors {
		meta, err := json.Marshal(orEmpty(a.Meta))
		if err != nil {
			return errors.Wrapf(err, "author %d meta", a.ID)
		}
		if _, err := tx.Exec(ctx, upsertAuthorSQL, a.ID, a.DisplayName, meta); err != nil {
			return errors.Wrapf(err, "upsert author %d", a.ID)
		}
	}

	for _, t := range cat.Terms {
		if _, err := tx.Exec(ctx, upsertTermSQL,
			t.ID, t.Taxonomy, t.Name, t.Slug, t.Description, t.ParentID,
		); err != nil {
			return errors.Wrapf(err, "upsert term %d", t.ID)
		}
	}

	for _, p := range cat.Products {
		if err := upsertProduct(ctx, tx, p); err != nil {
			return err
		}
	}
	return nil
}

func upsertProduct(ctx context.Context, tx pgx.Tx, p productJSON) error {
	meta, err := json.Marshal(orEmpty(p.Meta))
	if err != nil {
		return errors.Wrapf(err, "product %d meta", p.ID)
	}
	inStock := p.InStock == nil || *p.InStock
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, upsertProductSQL,
		p.ID, p.Title, p.Slug, p.Content,
		orDefault(p.Status, "publish"), orDefault(p.Visibility, "visible"), orDefault(p.Type, "simple"),
		p.AuthorID, p.VendorID, p.RegularPrice, p.SalePrice, p.price(),
		p.TotalSales, p.AverageRating, p.ReviewCount,
		p.Featured, inStock, p.MenuOrder, p.ImageURL, p.ImageAlt, meta, createdAt,
	); err != nil {
		return errors.Wrapf(err, "upsert product %d", p.ID)
	}

	if _, err := tx.Exec(ctx, deleteProductTermsSQL, p.ID); err != nil {
		return errors.Wrapf(err, "clear terms of product %d", p.ID)
	}
	for _, termID := range p.TermIDs {
		if _, err := tx.Exec(ctx, insertProductTermSQL, p.ID, termID); err != nil {
			return errors.Wrapf(err, "assign term %d to product %d", termID, p.ID)
		}
	}
	return nil
}

func orEmpty[M ~map[string]V, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
