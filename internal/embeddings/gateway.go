// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var errNoProvider = errors.New("no embedding provider configured")

// GatewayConfig tunes the gateway
type GatewayConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Breaker           BreakerConfig
	CacheSize         int64
}

// Gateway is the single entry point to the embedding provider. It checks an
// in-memory cache, then the persistent cache, then calls the provider under
// a rate limit, a circuit breaker and a per-call timeout. Every failure is
// reported as memory.ErrEmbeddingUnavailable.
type Gateway struct {
	client  Client
	model   string
	timeout time.Duration
	memo    *ristretto.Cache
	store   *Cache
	limiter *rate.Limiter
	breaker *breaker
	log     *logrus.Entry
}

// NewGateway creates a gateway. A nil client yields a disabled gateway; a nil
// db disables the persistent cache.
func NewGateway(client Client, db *gorm.DB, cfg GatewayConfig, log *logrus.Entry) (*Gateway, error) {
	log = logging.OrNop(log)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}

	g := &Gateway{
		client:  client,
		timeout: cfg.Timeout,
		log:     log,
	}
	if client == nil {
		return g, nil
	}
	g.model = client.GetModelInfo().Name

	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.CacheSize * 10,
		MaxCost:     cfg.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding memo cache: %w", err)
	}
	g.memo = memo

	if db != nil {
		g.store = NewCache(db)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)
	g.breaker = newBreaker(cfg.Breaker, log)

	return g, nil
}

// Enabled reports whether a provider is configured
func (g *Gateway) Enabled() bool {
	return g != nil && g.client != nil
}

// Model returns the provider's model name
func (g *Gateway) Model() string {
	return g.model
}

// State returns the circuit breaker state, or "disabled"
func (g *Gateway) State() string {
	if !g.Enabled() {
		return "disabled"
	}
	return g.breaker.state()
}

// Embed returns the vector for text
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if !g.Enabled() {
		return nil, fmt.Errorf("%w: %v", memory.ErrEmbeddingUnavailable, errNoProvider)
	}

	key := memory.ContentHash(text)
	if v, ok := g.memo.Get(key); ok {
		return v.([]float32), nil
	}

	if g.store != nil {
		vec, err := g.store.Get(ctx, key, g.model)
		if err != nil {
			g.log.WithError(err).Warn("embedding cache read failed")
		} else if vec != nil {
			g.memo.Set(key, vec, 1)
			return vec, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(callCtx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", memory.ErrEmbeddingUnavailable, err)
	}

	vec, err := g.breaker.execute(callCtx, func() ([]float32, error) {
		return g.client.Embed(callCtx, text)
	})
	if err == nil && len(vec) == 0 {
		err = errors.New("provider returned an empty vector")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrEmbeddingUnavailable, err)
	}

	if g.store != nil {
		if err := g.store.Put(ctx, key, g.model, vec); err != nil {
			g.log.WithError(err).Warn("embedding cache write failed")
		}
	}
	g.memo.Set(key, vec, 1)
	return vec, nil
}

// Close releases the in-memory cache
func (g *Gateway) Close() {
	if g.memo != nil {
		g.memo.Close()
	}
}
