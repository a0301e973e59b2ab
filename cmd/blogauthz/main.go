package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blogauthz/internal/authz"
	"blogauthz/internal/authz/adapter/inmem"
	"blogauthz/internal/authz/adapter/jwks"
	"blogauthz/internal/authz/adapter/proxy"
	"blogauthz/internal/authz/adapter/rediscache"
	"blogauthz/internal/authz/adapter/secrets"
	"blogauthz/internal/authz/engine"
	"blogauthz/internal/authz/guest"
	"blogauthz/internal/authz/middleware"
	"blogauthz/internal/authz/validator"
	"blogauthz/internal/domain"
	"blogauthz/internal/platform/config"
	"blogauthz/internal/platform/server"
	"blogauthz/internal/platform/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "blogauthz")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewAuthzMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	// JWKS client with background key rotation pickup
	jwksClient := jwks.NewClient(cfg.JWKSEndpoint, cfg.JWKSMinRefresh, metrics)
	go jwksClient.RefreshLoop(ctx, cfg.JWKSRefreshInterval)

	bindings := domain.DefaultBindings()

	tokenValidator := validator.New(jwksClient, cfg.TokenIssuer, cfg.TokenAudience, bindings)

	eng, err := engine.New(bindings, cfg.DecisionCacheTTL, nil)
	if err != nil {
		slog.Error("engine initialization failed", "error", err)
		os.Exit(1)
	}

	// Decision cache: Redis when configured, in-process otherwise
	var cache authz.DecisionCache
	if cfg.RedisAddr != "" {
		redisCache, err := rediscache.New(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("redis cache initialization failed", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
		slog.Info("using redis decision cache", "addr", cfg.RedisAddr)
	} else {
		memCache := inmem.NewDecisionCache(cfg.DecisionCacheSize, nil)
		go func() {
			ticker := time.NewTicker(cfg.DecisionCacheTTL)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					memCache.Cleanup()
				}
			}
		}()
		cache = memCache
	}

	authorizer := authz.NewAuthorizer(tokenValidator, eng, cache, bindings, metrics)

	// Guest token issuance, enabled only when a secret store is configured
	var issuer proxy.TokenIssuer
	if cfg.SecretStoreURL != "" {
		secretStore := secrets.NewClient(cfg.SecretStoreURL)
		issuer = guest.NewIssuer(secretStore, cfg.GuestSecretName, cfg.IdentityURL+"/auth/token")
	}

	// Per-IP rate limiter
	rl := inmem.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Now)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()

	router, err := proxy.NewRouter(authorizer, issuer, cfg.BlogBackendURL, metrics)
	if err != nil {
		slog.Error("router initialization failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(cfg.MaxBodyBytes),
		middleware.RateLimit(rl, metrics),
	))

	srv := server.New(cfg.Addr, mux)

	slog.Info("authorization front door starting",
		"addr", cfg.Addr,
		"jwks_endpoint", cfg.JWKSEndpoint,
		"blog_backend_url", cfg.BlogBackendURL,
		"identity_url", cfg.IdentityURL,
		"guest_access", issuer != nil,
		"decision_cache_ttl", cfg.DecisionCacheTTL,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}
