package loadtest_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"

	"blogauthz/internal/authz"
	"blogauthz/internal/authz/adapter/inmem"
	"blogauthz/internal/authz/adapter/jwks"
	"blogauthz/internal/authz/adapter/proxy"
	"blogauthz/internal/authz/engine"
	"blogauthz/internal/authz/middleware"
	"blogauthz/internal/authz/validator"
	"blogauthz/internal/domain"
	"blogauthz/internal/platform/server"
	"blogauthz/internal/platform/telemetry"
	"blogauthz/internal/testutil"
)

// testEnv holds the infrastructure for one load test run.
type testEnv struct {
	baseURL      string
	authorToken  string
	guestToken   string
	expiredToken string
}

type rlConfig struct {
	perIPRate  float64
	perIPBurst int
}

func setupTestEnv(t *testing.T, rl rlConfig) *testEnv {
	t.Helper()

	kid, priv, pub := testutil.GenerateTestKeyPair(t)

	jwksSrv := httptest.NewServer(testutil.MockJWKSHandler(kid, pub))
	t.Cleanup(jwksSrv.Close)
	backend := httptest.NewServer(testutil.MockBlogBackend())
	t.Cleanup(backend.Close)

	env := &testEnv{
		authorToken:  testutil.IssueRoleToken(t, kid, priv, "loadtest-author", domain.RoleAuthor, 30*time.Minute),
		guestToken:   testutil.IssueRoleToken(t, kid, priv, "loadtest-guest", domain.RoleGuest, 30*time.Minute),
		expiredToken: testutil.IssueRoleToken(t, kid, priv, "expired-user", domain.RoleAuthor, -time.Minute),
	}

	addr := freeAddr(t)
	bindings := domain.DefaultBindings()
	jwksClient := jwks.NewClient(jwksSrv.URL, time.Minute, nil)
	tokenValidator := validator.New(jwksClient, testutil.Issuer, testutil.Audience, bindings)

	eng, err := engine.New(bindings, 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	cache := inmem.NewDecisionCache(10000, nil)
	authorizer := authz.NewAuthorizer(tokenValidator, eng, cache, bindings, nil)

	router, err := proxy.NewRouter(authorizer, nil, backend.URL, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	rateLimiter := inmem.NewRateLimiter(rl.perIPRate, rl.perIPBurst, time.Now)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	shutdown, _ := telemetry.Setup(context.Background(), "blogauthz-loadtest")
	t.Cleanup(func() { shutdown(context.Background()) })

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.RateLimit(rateLimiter, nil),
	))

	srv := server.New(addr, mux)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go srv.Run(ctx)

	env.baseURL = "http://" + addr
	waitForReady(t, env.baseURL+"/healthz")

	return env
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitForReady(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server did not become ready at %s", url)
}

func loadtestDuration() time.Duration {
	if d := os.Getenv("LOADTEST_DURATION"); d != "" {
		dur, err := time.ParseDuration(d)
		if err == nil {
			return dur
		}
	}
	if testing.Short() {
		return 2 * time.Second
	}
	return 5 * time.Second
}

func loadtestRate() int {
	if r := os.Getenv("LOADTEST_RATE"); r != "" {
		rate, err := strconv.Atoi(r)
		if err == nil {
			return rate
		}
	}
	if testing.Short() {
		return 50
	}
	return 100
}

func printReport(t *testing.T, name string, metrics *vegeta.Metrics) {
	t.Helper()
	t.Logf("\n=== %s ===", name)
	t.Logf("  Requests:    %d", metrics.Requests)
	t.Logf("  Rate:        %.1f req/s", metrics.Rate)
	t.Logf("  Throughput:  %.1f req/s", metrics.Throughput)
	t.Logf("  Duration:    %s", metrics.Duration)
	t.Logf("  Latencies:")
	t.Logf("    Mean:    %s", metrics.Latencies.Mean)
	t.Logf("    P50:     %s", metrics.Latencies.P50)
	t.Logf("    P95:     %s", metrics.Latencies.P95)
	t.Logf("    P99:     %s", metrics.Latencies.P99)
	t.Logf("    Max:     %s", metrics.Latencies.Max)
	t.Logf("  Status Codes:")
	for code, count := range metrics.StatusCodes {
		t.Logf("    %s: %d", code, count)
	}
	if len(metrics.Errors) > 0 {
		t.Logf("  Errors (first 5):")
		for i, e := range metrics.Errors {
			if i >= 5 {
				break
			}
			t.Logf("    %s", e)
		}
	}
	t.Logf("  Success:     %.1f%%", metrics.Success*100)
}

func attack(targeter vegeta.Targeter, rate vegeta.Rate, duration time.Duration, name string) *vegeta.Metrics {
	attacker := vegeta.NewAttacker()
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, rate, duration, name) {
		metrics.Add(res)
	}
	metrics.Close()
	return &metrics
}

func TestBaselineAnonymousReads(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000})

	rate := vegeta.Rate{Freq: loadtestRate(), Per: time.Second}
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodGet,
		URL:    env.baseURL + "/posts",
	})

	metrics := attack(targeter, rate, loadtestDuration(), "anonymous-reads")
	printReport(t, "Baseline Anonymous Reads", metrics)

	if metrics.Success < 0.99 {
		t.Errorf("expected >99%% success rate, got %.1f%%", metrics.Success*100)
	}
	if metrics.Latencies.P99 > 100*time.Millisecond {
		t.Errorf("P99 latency too high: %s", metrics.Latencies.P99)
	}
}

func TestBaselineAuthenticatedWrites(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000})

	rate := vegeta.Rate{Freq: loadtestRate(), Per: time.Second}
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodPost,
		URL:    env.baseURL + "/post",
		Header: http.Header{
			"Authorization": []string{"Bearer " + env.authorToken},
		},
	})

	metrics := attack(targeter, rate, loadtestDuration(), "author-writes")
	printReport(t, "Baseline Authenticated Writes", metrics)

	// Every request after the first hits the decision cache, so the
	// sustained path must stay fast.
	if metrics.Success < 0.99 {
		t.Errorf("expected >99%% success rate, got %.1f%%", metrics.Success*100)
	}
	if metrics.Latencies.P99 > 100*time.Millisecond {
		t.Errorf("P99 latency too high: %s", metrics.Latencies.P99)
	}
}

func TestRampUp(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000})

	duration := loadtestDuration()
	stages := []struct {
		name string
		rate int
	}{
		{"low", loadtestRate() / 2},
		{"medium", loadtestRate()},
		{"high", loadtestRate() * 3},
	}

	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodGet,
		URL:    env.baseURL + "/posts",
		Header: http.Header{
			"Authorization": []string{"Bearer " + env.guestToken},
		},
	})

	for _, stage := range stages {
		t.Run(stage.name, func(t *testing.T) {
			rate := vegeta.Rate{Freq: stage.rate, Per: time.Second}
			metrics := attack(targeter, rate, duration/time.Duration(len(stages)), stage.name)

			printReport(t, fmt.Sprintf("Ramp Up - %s (%d req/s)", stage.name, stage.rate), metrics)

			if metrics.Success < 0.95 {
				t.Errorf("expected >95%% success, got %.1f%%", metrics.Success*100)
			}
		})
	}
}

func TestRateLimitBehavior(t *testing.T) {
	// Low per-IP rate+burst so limiting triggers at the attack rate
	env := setupTestEnv(t, rlConfig{perIPRate: 5, perIPBurst: 10})

	rate := vegeta.Rate{Freq: loadtestRate(), Per: time.Second}
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodGet,
		URL:    env.baseURL + "/posts",
	})

	metrics := attack(targeter, rate, loadtestDuration(), "rate-limit")
	printReport(t, "Rate Limit Behavior", metrics)

	if metrics.StatusCodes["200"] == 0 {
		t.Error("expected some 200 responses (initial burst)")
	}
	if metrics.StatusCodes["429"] == 0 {
		t.Error("expected some 429 responses (rate limited)")
	}
}

func TestExpiredTokens(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000})

	rate := vegeta.Rate{Freq: loadtestRate(), Per: time.Second}
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodGet,
		URL:    env.baseURL + "/posts",
		Header: http.Header{
			"Authorization": []string{"Bearer " + env.expiredToken},
		},
	})

	metrics := attack(targeter, rate, loadtestDuration(), "expired")
	printReport(t, "Expired Tokens", metrics)

	if metrics.StatusCodes["401"] == 0 {
		t.Error("expected 401 responses for expired tokens")
	}
	if metrics.Success > 0.01 {
		t.Errorf("expected ~0%% success for expired tokens, got %.1f%%", metrics.Success*100)
	}
}

func TestMixedTraffic(t *testing.T) {
	env := setupTestEnv(t, rlConfig{perIPRate: 10000, perIPBurst: 10000})

	// 6 anonymous reads, 2 author writes, 1 denied guest write, 1 invalid token
	targets := make([]vegeta.Target, 10)
	for i := range 6 {
		targets[i] = vegeta.Target{
			Method: http.MethodGet,
			URL:    env.baseURL + "/posts",
		}
	}
	for i := 6; i < 8; i++ {
		targets[i] = vegeta.Target{
			Method: http.MethodPost,
			URL:    env.baseURL + "/post",
			Header: http.Header{
				"Authorization": []string{"Bearer " + env.authorToken},
			},
		}
	}
	targets[8] = vegeta.Target{
		Method: http.MethodPost,
		URL:    env.baseURL + "/post",
		Header: http.Header{
			"Authorization": []string{"Bearer " + env.guestToken},
		},
	}
	targets[9] = vegeta.Target{
		Method: http.MethodGet,
		URL:    env.baseURL + "/posts",
		Header: http.Header{
			"Authorization": []string{"Bearer invalid.token.here"},
		},
	}

	targeter := vegeta.NewStaticTargeter(targets...)
	rate := vegeta.Rate{Freq: loadtestRate(), Per: time.Second}

	metrics := attack(targeter, rate, loadtestDuration(), "mixed")
	printReport(t, "Mixed Traffic (60% read, 20% write, 10% denied, 10% invalid)", metrics)

	if metrics.StatusCodes["200"] == 0 {
		t.Error("expected some 200 responses")
	}
	if metrics.StatusCodes["401"] == 0 {
		t.Error("expected some 401 responses from invalid tokens")
	}
	if metrics.StatusCodes["403"] == 0 {
		t.Error("expected some 403 responses from denied guest writes")
	}

	total := float64(metrics.Requests)
	successRate := float64(metrics.StatusCodes["200"]) / total
	if successRate < 0.70 {
		t.Errorf("expected >70%% success rate, got %.1f%%", successRate*100)
	}
}
