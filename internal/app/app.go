// Package app wires the filter service together.
package app

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pgfe-filter/internal/cache"
	"github.com/xenking/pgfe-filter/internal/domain/auth"
	"github.com/xenking/pgfe-filter/internal/domain/catalog"
	"github.com/xenking/pgfe-filter/internal/handler"
	"github.com/xenking/pgfe-filter/internal/metrics"
	"github.com/xenking/pgfe-filter/internal/pipeline"
	"github.com/xenking/pgfe-filter/internal/render"
	"github.com/xenking/pgfe-filter/internal/storage/breaker"
	"github.com/xenking/pgfe-filter/internal/storage/postgres"
	"github.com/xenking/pgfe-filter/pkg/health"
	"github.com/xenking/pgfe-filter/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	applied, err := postgres.RunMigrations(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	lg.Info("Migrations applied", zap.Int64s("versions", applied))

	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, pool.Ping)
	if rdb != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)

	h, err := newHandlers(lg, cfg, pool, rdb)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	healthSvc.Mount(router)
	router.Handle("/metrics", h.metrics.Handler())
	limiter, err := newRateLimiter(ctx, cfg, rdb, h.api)
	if err != nil {
		return err
	}
	h.api.Mount(router, limiter)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(h.api.WritePanic),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{"Retry-After", httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.Instrument("pgfe-filter", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		defer healthSvc.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

type handlers struct {
	api     *handler.Handler
	metrics *metrics.Metrics
}

// newHandlers builds the pipeline and the HTTP handler on top of db. rdb may
// be nil.
func newHandlers(lg *zap.Logger, cfg *Config, db postgres.DBTX, rdb redis.UniversalClient) (handlers, error) {
	m := metrics.New()

	vendors, err := catalog.VendorBackendFor(cfg.Store.VendorBackend)
	if err != nil {
		return handlers{}, errors.Wrap(err, "vendor backend")
	}
	formatter := catalog.NewFormatter(catalog.Store{
		BaseURL:          cfg.Store.BaseURL,
		PlaceholderImage: cfg.Store.PlaceholderImage,
		Currency: catalog.Currency{
			Symbol:            cfg.Store.CurrencySymbol,
			Position:          catalog.CurrencyPosition(cfg.Store.CurrencyPosition),
			Decimals:          cfg.Store.Decimals,
			DecimalSeparator:  cfg.Store.DecimalSeparator,
			ThousandSeparator: cfg.Store.ThousandSeparator,
		},
	}, vendors)

	renderer, err := render.New()
	if err != nil {
		return handlers{}, errors.Wrap(err, "create renderer")
	}

	resultCache, err := newCache(cfg, rdb)
	if err != nil {
		return handlers{}, err
	}
	lg.Info("Result cache", zap.String("backend", cfg.CacheBackend()), zap.Duration("ttl", cfg.Cache.TTL))

	bcfg := breaker.DefaultConfig()
	bcfg.Timeout = cfg.Breaker.Timeout
	bcfg.Interval = cfg.Breaker.Interval
	bcfg.FailureRatio = cfg.Breaker.FailureRatio
	bcfg.MinRequests = cfg.Breaker.MinRequests
	repo := breaker.New(postgres.NewCatalogRepository(db), bcfg, lg.Named("breaker"), m)

	svc := pipeline.New(repo, formatter, renderer, pipeline.Config{
		CacheTTL: cfg.Cache.TTL,
		BaseURL:  cfg.Store.BaseURL,
	},
		pipeline.WithCache(resultCache),
		pipeline.WithMetrics(m),
	)

	secret := []byte(cfg.Nonce.Secret)
	if len(secret) == 0 {
		lg.Warn("Nonce secret not configured, using a random per-process secret")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return handlers{}, errors.Wrap(err, "generate nonce secret")
		}
	}
	if cfg.APIKeyPepper == "" {
		lg.Warn("API key pepper not configured")
	}

	api := handler.New(
		handler.Config{Debug: cfg.Debug},
		svc,
		renderer,
		auth.NewNonceManager(secret, cfg.Nonce.TTL),
		auth.NewAuthenticator(postgres.NewAPIKeyRepository(db), []byte(cfg.APIKeyPepper)),
		m,
	)
	return handlers{api: api, metrics: m}, nil
}

func newCache(cfg *Config, rdb redis.UniversalClient) (cache.Cache, error) {
	switch cfg.CacheBackend() {
	case cacheRedis:
		if rdb == nil {
			return nil, errors.New("redis cache requires a redis url")
		}
		return cache.NewRedis(rdb), nil
	case cacheMemory:
		return cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL), nil
	case cacheNone:
		return cache.Noop{}, nil
	default:
		return nil, errors.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// newRateLimiter returns nil when rate limiting is disabled. A Redis server
// shares the counters across instances.
func newRateLimiter(ctx context.Context, cfg *Config, rdb redis.UniversalClient, api *handler.Handler) (httpmiddleware.Middleware, error) {
	if cfg.RateLimit.Max <= 0 {
		return nil, nil
	}
	proxies, err := httpmiddleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, errors.Wrap(err, "rate limit")
	}
	rl := httpmiddleware.RateLimitConfig{
		Max:       cfg.RateLimit.Max,
		Window:    cfg.RateLimit.Window,
		KeyFunc:   handler.RateLimitKey(proxies.ClientIP),
		OnLimited: api.WriteRateLimited,
	}
	if rdb != nil {
		rl.Store = httpmiddleware.NewRedisStore(rdb, cache.Prefix+"rl:", cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	return httpmiddleware.RateLimitWithCleanup(ctx, rl), nil
}
