package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// AuthzMetrics holds all OTel instruments for the authorization service.
type AuthzMetrics struct {
	httpRequestsTotal     otelmetric.Int64Counter
	httpRequestDuration   otelmetric.Float64Histogram
	tokenValidationsTotal otelmetric.Int64Counter
	decisionsTotal        otelmetric.Int64Counter
	cacheLookupsTotal     otelmetric.Int64Counter
	guestTokensTotal      otelmetric.Int64Counter
	jwksRefreshesTotal    otelmetric.Int64Counter
	rateLimitTotal        otelmetric.Int64Counter
	proxyRequestsTotal    otelmetric.Int64Counter
	proxyDuration         otelmetric.Float64Histogram
}

// NewAuthzMetrics creates and registers all authorization service metrics.
func NewAuthzMetrics() (*AuthzMetrics, error) {
	meter := otel.Meter("blogauthz")
	m := &AuthzMetrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("authz_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("authz_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.tokenValidationsTotal, err = meter.Int64Counter("authz_token_validations_total",
		otelmetric.WithDescription("Total token validations")); err != nil {
		return nil, fmt.Errorf("creating token_validations_total: %w", err)
	}
	if m.decisionsTotal, err = meter.Int64Counter("authz_decisions_total",
		otelmetric.WithDescription("Total authorization decisions")); err != nil {
		return nil, fmt.Errorf("creating decisions_total: %w", err)
	}
	if m.cacheLookupsTotal, err = meter.Int64Counter("authz_decision_cache_lookups_total",
		otelmetric.WithDescription("Total decision cache lookups")); err != nil {
		return nil, fmt.Errorf("creating decision_cache_lookups_total: %w", err)
	}
	if m.guestTokensTotal, err = meter.Int64Counter("authz_guest_tokens_total",
		otelmetric.WithDescription("Total guest token issuance attempts")); err != nil {
		return nil, fmt.Errorf("creating guest_tokens_total: %w", err)
	}
	if m.jwksRefreshesTotal, err = meter.Int64Counter("authz_jwks_refreshes_total",
		otelmetric.WithDescription("Total JWKS refreshes")); err != nil {
		return nil, fmt.Errorf("creating jwks_refreshes_total: %w", err)
	}
	if m.rateLimitTotal, err = meter.Int64Counter("authz_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.proxyRequestsTotal, err = meter.Int64Counter("authz_proxy_requests_total",
		otelmetric.WithDescription("Total proxied requests to the blog backend")); err != nil {
		return nil, fmt.Errorf("creating proxy_requests_total: %w", err)
	}
	if m.proxyDuration, err = meter.Float64Histogram("authz_proxy_duration_seconds",
		otelmetric.WithDescription("Proxied request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating proxy_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *AuthzMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordTokenValidation records a token validation result.
func (m *AuthzMetrics) RecordTokenValidation(ctx context.Context, result string) {
	m.tokenValidationsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordDecision records an authorization decision by role and outcome.
func (m *AuthzMetrics) RecordDecision(ctx context.Context, role, result string) {
	m.decisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		roleAttr(role),
		resultAttr(result),
	))
}

// RecordCacheLookup records a decision cache hit or miss.
func (m *AuthzMetrics) RecordCacheLookup(ctx context.Context, result string) {
	m.cacheLookupsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordGuestToken records a guest token issuance result.
func (m *AuthzMetrics) RecordGuestToken(ctx context.Context, result string) {
	m.guestTokensTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *AuthzMetrics) RecordJWKSRefresh(ctx context.Context, result string) {
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *AuthzMetrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}

// RecordProxyRequest records a proxied request to the blog backend.
func (m *AuthzMetrics) RecordProxyRequest(ctx context.Context, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(statusAttr(status))
	m.proxyRequestsTotal.Add(ctx, 1, attrs)
	m.proxyDuration.Record(ctx, durationSec, attrs)
}
