package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/xenking/pgfe-filter/internal/cache"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PGFE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address" validate:"required"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PGFE_DATABASE_URL or DATABASE_URL)" flag:"database-url" validate:"required"`
	MaxConns     int32  `default:"10" usage:"Maximum PostgreSQL connections" flag:"max-conns" validate:"min=1"`
	RedisURL     string `usage:"Redis URL for the result cache and rate limiter (PGFE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Debug        bool   `default:"false" usage:"Include error details in failure responses"`
	Cache        CacheConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
	Nonce        NonceConfig
	Store        StoreConfig
	Breaker      BreakerConfig
}

// CacheConfig selects the result cache.
type CacheConfig struct {
	// Backend is redis, memory or none. Empty picks redis when a Redis URL
	// is set and memory otherwise.
	Backend string        `default:"" usage:"Result cache backend (redis, memory, none)" validate:"omitempty,oneof=redis memory none"`
	TTL     time.Duration `default:"15m" usage:"Result cache entry lifetime" validate:"gt=0"`
	Size    int           `default:"4096" usage:"In-memory cache capacity" validate:"min=1"`
}

// RateLimitConfig controls the per-identity rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max requests per window" validate:"min=0"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration" validate:"gt=0"`
	// TrustedProxies lists reverse proxies whose X-Forwarded-For is honoured.
	TrustedProxies []string `usage:"Trusted reverse proxy CIDRs or addresses" validate:"omitempty,dive,cidr|ip"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// NonceConfig controls anti-forgery tokens.
type NonceConfig struct {
	Secret string        `usage:"HMAC secret for nonces; random per process when empty"`
	TTL    time.Duration `default:"12h" usage:"Nonce lifetime" validate:"gt=0"`
}

// StoreConfig describes the storefront records link into.
type StoreConfig struct {
	BaseURL           string `default:"http://localhost:8080" usage:"Storefront base URL" validate:"required,url"`
	PlaceholderImage  string `default:"/images/placeholder.png" usage:"Image used when a product has none"`
	CurrencySymbol    string `default:"$" usage:"Currency symbol"`
	CurrencyPosition  string `default:"left" usage:"Currency position" validate:"oneof=left right left_space right_space"`
	Decimals          int    `default:"2" usage:"Price decimals" validate:"min=0,max=4"`
	DecimalSeparator  string `default:"." usage:"Decimal separator"`
	ThousandSeparator string `default:"," usage:"Thousand separator"`
	VendorBackend     string `default:"auto" usage:"Vendor plugin (wcvendors, dokan, wcfm, auto)" validate:"oneof=wcvendors dokan wcfm auto"`
}

// BreakerConfig controls the circuit breaker around the catalog.
type BreakerConfig struct {
	Timeout      time.Duration `default:"30s" usage:"Time the breaker stays open" validate:"gt=0"`
	Interval     time.Duration `default:"1m" usage:"Failure count reset interval while closed"`
	FailureRatio float64       `default:"0.5" usage:"Failure ratio that opens the breaker" validate:"gt=0,lte=1"`
	MinRequests  uint32        `default:"5" usage:"Requests seen before the ratio applies" validate:"min=1"`
}

// LoadConfig loads .env, then environment variables and YAML config files,
// applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PGFE",
		Files:     []string{"config.yaml", "/etc/pgfe/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// CacheBackend resolves the configured cache backend.
func (c *Config) CacheBackend() string {
	if c.Cache.Backend != "" {
		return c.Cache.Backend
	}
	if c.RedisURL != "" {
		return cacheRedis
	}
	return cacheMemory
}

const (
	cacheRedis  = "redis"
	cacheMemory = "memory"
	cacheNone   = "none"
)

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PGFE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = cache.DefaultTTL
	}
}
