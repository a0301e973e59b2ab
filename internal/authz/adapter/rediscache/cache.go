// Package rediscache provides a Redis-backed decision cache for
// deployments where the authorization front door is horizontally scaled
// and instances should share decisions.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"blogauthz/internal/domain"
)

const opTimeout = 2 * time.Second

// DecisionCache stores authorization results in Redis with a server-side
// TTL. Redis errors are treated as misses: the decision is recomputed,
// never fabricated from a failed read.
type DecisionCache struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a Redis client for addr and verifies connectivity.
func New(ctx context.Context, addr string) (*DecisionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}

	return &DecisionCache{client: client, now: time.Now}, nil
}

// NewWithClient wraps an existing Redis client. clock is injectable for
// deterministic testing.
func NewWithClient(client *redis.Client, clock func() time.Time) *DecisionCache {
	if clock == nil {
		clock = time.Now
	}
	return &DecisionCache{client: client, now: clock}
}

// GetOrCompute returns the cached result for key, or runs compute and
// stores its result with a TTL matching the decision expiry. The bool
// reports a cache hit. Compute errors are returned as-is and nothing is
// stored.
func (c *DecisionCache) GetOrCompute(ctx context.Context, key domain.DecisionKey, compute func(context.Context) (domain.AuthResult, error)) (domain.AuthResult, bool, error) {
	redisKey := c.redisKey(key)

	getCtx, cancel := context.WithTimeout(ctx, opTimeout)
	raw, err := c.client.Get(getCtx, redisKey).Bytes()
	cancel()
	switch {
	case err == nil:
		var result domain.AuthResult
		if jsonErr := json.Unmarshal(raw, &result); jsonErr == nil {
			if !result.Decision.Expired(c.now()) {
				return result, true, nil
			}
		} else {
			slog.Warn("decoding cached decision", "key", redisKey, "error", jsonErr)
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("decision cache read failed", "key", redisKey, "error", err)
	}

	result, err := compute(ctx)
	if err != nil {
		return domain.AuthResult{}, false, err
	}

	ttl := result.Decision.ExpiresAt.Sub(c.now())
	if ttl > 0 {
		raw, jsonErr := json.Marshal(result)
		if jsonErr != nil {
			slog.Warn("encoding decision for cache", "key", redisKey, "error", jsonErr)
			return result, false, nil
		}
		setCtx, cancel := context.WithTimeout(ctx, opTimeout)
		if setErr := c.client.Set(setCtx, redisKey, raw, ttl).Err(); setErr != nil {
			slog.Warn("decision cache write failed", "key", redisKey, "error", setErr)
		}
		cancel()
	}

	return result, false, nil
}

// Close releases the underlying Redis connection.
func (c *DecisionCache) Close() error {
	return c.client.Close()
}

func (c *DecisionCache) redisKey(key domain.DecisionKey) string {
	return fmt.Sprintf("authz:decision:%s:%s:%s", key.Subject, key.Resource, key.Action)
}
