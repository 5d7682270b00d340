// Command seed-db loads a catalog fixture and an API key into PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/pgfe-filter/internal/cache"
	"github.com/xenking/pgfe-filter/internal/domain/auth"
	"github.com/xenking/pgfe-filter/internal/storage/postgres"
)

type options struct {
	databaseURL string
	redisURL    string
	catalogFile string
	apiKey      string
	pepper      string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL whose result cache is flushed after seeding (or REDIS_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "db/seed/catalog.json", "path to the catalog JSON file, optionally gzip-compressed (.gz)")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or PGFE_SEED_API_KEY env); generated when empty")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PGFE_API_KEY_PEPPER env)")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.redisURL == "" {
		opts.redisURL = os.Getenv("REDIS_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("PGFE_SEED_API_KEY")
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("PGFE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	cat, err := readCatalog(opts.catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL, 4)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if _, err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, cat); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	slog.Info("upserted catalog",
		slog.Int("authors", len(cat.Authors)),
		slog.Int("terms", len(cat.Terms)),
		slog.Int("products", len(cat.Products)),
	)

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), opts.apiKey, opts.pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if opts.redisURL != "" {
		if err := flushCache(ctx, opts.redisURL); err != nil {
			return errors.Wrap(err, "flush cache")
		}
	}
	return nil
}

// keySaver stores API keys.
type keySaver interface {
	Save(ctx context.Context, info auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, keys keySaver, apiKey, pepper string) error {
	generated := apiKey == ""
	if generated {
		k, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		apiKey = k
	}

	info := auth.APIKeyInfo{
		ID:      "00000000-0000-0000-0000-000000000001",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default storefront key",
		Scopes:  []string{auth.ScopeRead},
	}
	if err := keys.Save(ctx, info); err != nil {
		return err
	}

	attrs := []any{slog.String("id", info.ID), slog.String("name", info.Name)}
	if generated {
		// Only a hash is stored, so this is the one chance to see the key.
		attrs = append(attrs, slog.String("api_key", apiKey))
	}
	slog.Info("upserted API key", attrs...)
	return nil
}

func flushCache(ctx context.Context, redisURL string) error {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(ropts)
	defer func() { _ = rdb.Close() }()

	if err := cache.NewRedis(rdb).Flush(ctx); err != nil {
		return err
	}
	slog.Info("flushed result cache")
	return nil
}
