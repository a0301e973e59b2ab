// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime setting of the authorization front door.
type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`

	BlogBackendURL string `envconfig:"BLOG_BACKEND_URL" required:"true"`
	IdentityURL    string `envconfig:"IDENTITY_URL" required:"true"`
	JWKSEndpoint   string `envconfig:"JWKS_ENDPOINT" required:"true"`

	TokenIssuer   string `envconfig:"TOKEN_ISSUER" required:"true"`
	TokenAudience string `envconfig:"TOKEN_AUDIENCE" required:"true"`

	// SecretStoreURL enables the guest token endpoint. Empty disables it.
	SecretStoreURL  string `envconfig:"SECRET_STORE_URL"`
	GuestSecretName string `envconfig:"GUEST_SECRET_NAME" default:"BlogGuestUserPassword"`

	DecisionCacheTTL  time.Duration `envconfig:"DECISION_CACHE_TTL" default:"5m"`
	DecisionCacheSize int           `envconfig:"DECISION_CACHE_SIZE" default:"10000"`

	// RedisAddr switches the decision cache to Redis. Empty keeps the
	// in-process cache.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	JWKSMinRefresh      time.Duration `envconfig:"JWKS_MIN_REFRESH" default:"5m"`
	JWKSRefreshInterval time.Duration `envconfig:"JWKS_REFRESH_INTERVAL" default:"15m"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"100"`
	MaxBodyBytes   int64   `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DecisionCacheTTL <= 0 {
		return fmt.Errorf("DECISION_CACHE_TTL must be positive, got %s", c.DecisionCacheTTL)
	}
	if c.DecisionCacheSize <= 0 {
		return fmt.Errorf("DECISION_CACHE_SIZE must be positive, got %d", c.DecisionCacheSize)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level. Load has already validated
// the value.
func (c Config) SlogLevel() slog.Level {
	level, _ := parseLogLevel(c.LogLevel)
	return level
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
}
