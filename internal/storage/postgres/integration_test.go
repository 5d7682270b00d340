//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/domain/filter"
	"github.com/xenking/pgfe-filter/internal/domain/query"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pgfe",
				"POSTGRES_PASSWORD": "pgfe",
				"POSTGRES_DB":       "pgfe",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, ctr)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://pgfe:pgfe@%s:%s/pgfe?sslmode=disable", host, port.Port()), 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := RunMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, applied)
	return pool
}

const fixtureSQL = `
INSERT INTO authors (id, display_name, meta) VALUES
	(1, 'Ana', '{"pv_shop_name": "Ana''s Pottery"}');
INSERT INTO terms (id, taxonomy, name, slug, parent_id) VALUES
	(10, 'product_cat', 'Ceramics', 'ceramics', 0),
	(11, 'product_cat', 'Mugs', 'mugs', 10),
	(12, 'product_cat', 'Bowls', 'bowls', 10),
	(20, 'pa_color', 'Red', 'red', 0);
INSERT INTO products (id, title, slug, status, visibility, author_id, vendor_id, regular_price, sale_price, price, total_sales, created_at) VALUES
	(1, 'Red Mug', 'red-mug', 'publish', 'visible', 1, 1, 20, 15, 15, 30, now() - interval '3 days'),
	(2, 'Blue Mug', 'blue-mug', 'publish', 'visible', 1, 1, 18, NULL, 18, 10, now() - interval '2 days'),
	(3, 'Bowl', 'bowl', 'publish', 'visible', 1, 2, 40, NULL, 40, 50, now() - interval '1 day'),
	(4, 'Hidden Mug', 'hidden-mug', 'publish', 'hidden', 1, 1, 5, NULL, 5, 0, now()),
	(5, 'Draft Bowl', 'draft-bowl', 'draft', 'visible', 1, 2, 7, NULL, 7, 0, now());
INSERT INTO product_terms (product_id, term_id) VALUES
	(1, 11), (1, 20), (2, 11), (3, 12), (4, 11), (5, 12);
`

func TestCatalogRepository_Postgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	_, err := pool.Exec(ctx, fixtureSQL)
	require.NoError(t, err)

	repo := NewCatalogRepository(pool)
	base := query.Args{
		PostType:   query.PostTypeProduct,
		Status:     query.StatusPublish,
		Visibility: query.VisibleInCatalog,
		Order:      query.Order{Field: query.OrderDate, Direction: filter.Desc},
		Page:       1,
		PageSize:   8,
	}

	t.Run("latest", func(t *testing.T) {
		page, err := repo.Search(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2, 1}, page.IDs)
		assert.Equal(t, 3, page.Total)
	})

	t.Run("category and attribute", func(t *testing.T) {
		args := base
		args.Tax = []query.TaxPredicate{
			{Taxonomy: query.TaxonomyCategory, Field: query.FieldTermID, TermIDs: []int64{11}, Operator: query.OpIn},
			{Taxonomy: "pa_color", Field: query.FieldSlug, Slugs: []string{"red"}, Operator: query.OpIn},
		}
		page, err := repo.Search(ctx, args)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, page.IDs)
	})

	t.Run("best selling with exclusions", func(t *testing.T) {
		args := base
		args.Order = query.Order{Field: query.OrderMetaNum, MetaKey: query.MetaTotalSales, Direction: filter.Desc}
		args.ExcludeIDs = []int64{3}
		page, err := repo.Search(ctx, args)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, page.IDs)
	})

	t.Run("manual order", func(t *testing.T) {
		args := base
		args.IncludeIDs = []int64{2, 3, 1}
		args.Order = query.Order{Field: query.OrderIncluded}
		page, err := repo.Search(ctx, args)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 1}, page.IDs)
	})

	t.Run("price range", func(t *testing.T) {
		pr, err := repo.PriceRange(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, "15", pr.Min.String())
		assert.Equal(t, "40", pr.Max.String())
	})

	t.Run("child terms", func(t *testing.T) {
		terms, err := repo.ChildTerms(ctx, catalog.TermQuery{ParentID: 10})
		require.NoError(t, err)
		require.Len(t, terms, 2)
		assert.Equal(t, "Bowls", terms[0].Name)
		assert.Equal(t, 1, terms[0].Count)
		assert.Equal(t, 2, terms[1].Count)
	})

	t.Run("items and authors", func(t *testing.T) {
		items, err := repo.Products(ctx, []int64{1})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.True(t, items[0].OnSale())

		authors, err := repo.Authors(ctx, []int64{1})
		require.NoError(t, err)
		assert.Equal(t, "Ana's Pottery", authors[1].Meta["pv_shop_name"])
	})
}
