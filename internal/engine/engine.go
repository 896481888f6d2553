// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package engine builds the memory engine from configuration and owns the
// lifetime of every component.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/flandriendev/briven/internal/auth"
	"github.com/flandriendev/briven/internal/config"
	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/embeddings"
	"github.com/flandriendev/briven/internal/lexical"
	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/flandriendev/briven/internal/locking"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/ranker"
	"github.com/flandriendev/briven/internal/rebuild"
	"github.com/flandriendev/briven/internal/semantic"
	"github.com/flandriendev/briven/internal/sessionlog"
	"github.com/flandriendev/briven/internal/tools"
	"github.com/flandriendev/briven/pkg/scheduler"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Job names registered with the maintenance scheduler
const (
	JobRetention = "retention"
	JobReembed   = "reembed"
	JobVerify    = "verify"
	JobTokens    = "tokens"
	JobBackup    = "backup"
)

type options struct {
	client    embeddings.Client
	hasClient bool
	logLevel  logger.LogLevel
	skipCheck bool
}

// Option customizes Open
type Option func(*options)

// WithEmbeddingClient replaces the configured provider; nil disables embeddings
func WithEmbeddingClient(c embeddings.Client) Option {
	return func(o *options) {
		o.client = c
		o.hasClient = true
	}
}

// WithDBLogLevel sets the gorm log level (silent by default)
func WithDBLogLevel(level logger.LogLevel) Option {
	return func(o *options) { o.logLevel = level }
}

// WithoutStartupCheck skips the verify/rebuild pass on open
func WithoutStartupCheck() Option {
	return func(o *options) { o.skipCheck = true }
}

// Engine holds every component, wired with explicit handles
type Engine struct {
	cfg     *config.Config
	db      *gorm.DB
	store   *database.Store
	lex     *lexical.Index
	sem     semantic.Index
	gateway *embeddings.Gateway
	locks   *locking.ScopeLocks
	locker  *locking.Locker
	manager *lifecycle.Manager
	ranker  *ranker.Ranker
	tokens  *auth.TokenManager
	sched   *scheduler.Scheduler
	log     *logrus.Entry

	mu        sync.Mutex
	stopWatch context.CancelFunc
	watchDone chan struct{}
	closed    bool
}

// Open connects to the store, loads both indexes from it and starts the
// embedding workers
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{logLevel: logger.Silent}
	for _, opt := range opts {
		opt(o)
	}
	log := logging.For("engine")

	db, err := database.Open(&database.Config{
		Type:        cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
		LogLevel:    o.logLevel,
	})
	if err != nil {
		return nil, err
	}
	if err := locking.MigrateLeases(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	client := o.client
	if !o.hasClient {
		if client, err = embeddings.NewClient(ctx, cfg.Embeddings); err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to create embedding client: %w", err)
		}
	}
	gateway, err := embeddings.NewGateway(client, db, embeddings.GatewayConfig{
		Timeout:           cfg.Embeddings.Timeout(),
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Burst:             cfg.Embeddings.Burst,
		Breaker: embeddings.BreakerConfig{
			MaxFailures: cfg.Embeddings.BreakerMaxFailures,
			Timeout:     cfg.Embeddings.BreakerTimeout,
		},
		CacheSize: cfg.Embeddings.CacheSize,
	}, logging.For("embeddings"))
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	sem, err := semantic.New(cfg.Semantic.Backend)
	if err != nil {
		gateway.Close()
		_ = database.Close(db)
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		db:      db,
		store:   database.NewStore(db),
		lex:     lexical.New(cfg.Lexical.K1, cfg.Lexical.B),
		sem:     sem,
		gateway: gateway,
		locks:   locking.NewScopeLocks(),
		locker:  locking.NewLocker(db),
		tokens:  auth.NewTokenManager(db, cfg.Auth.TokenTTL),
		log:     log,
	}

	e.manager = lifecycle.New(lifecycle.Deps{
		Store:    e.store,
		Lexical:  e.lex,
		Semantic: e.sem,
		Embedder: gateway,
		Locks:    e.locks,
		Log:      logging.For("lifecycle"),
	}, lifecycle.Config{
		Workers:        cfg.Lifecycle.Workers,
		QueueSize:      cfg.Lifecycle.QueueSize,
		DedupThreshold: cfg.Lifecycle.DedupSimilarityThreshold,
		Retention:      cfg.Lifecycle.Retention,
		EmbedAttempts:  cfg.Embeddings.MaxRetries + 1,
		RetryBackoff:   cfg.Embeddings.RetryBackoff(),
		BatchSize:      cfg.Embeddings.BatchSize,
	})

	var queryEmbedder ranker.Embedder
	if gateway.Enabled() {
		queryEmbedder = gateway
	}
	e.ranker = ranker.New(e.store, e.lex, e.sem, queryEmbedder, ranker.Config{
		Weight:    cfg.Search.Weight,
		Limit:     cfg.Search.Limit,
		Overfetch: cfg.Search.Overfetch,
		K:         int(cfg.Search.RRFK),
		Timeout:   cfg.Search.Timeout(),
	}, logging.For("ranker"))

	e.sched = e.newScheduler()

	if !o.skipCheck {
		if _, err := rebuild.Rebuild(ctx, e.rebuildDeps()); err != nil {
			_ = e.Close(ctx)
			return nil, err
		}
		if _, err := e.manager.ReembedMissing(ctx); err != nil {
			log.WithError(err).WithField("op", "reembed").Warn("failed to queue missing embeddings")
		}
	}

	log.WithFields(logrus.Fields{
		"database":   cfg.Database.Type,
		"semantic":   cfg.Semantic.Backend,
		"embeddings": gateway.State(),
		"records":    e.lex.Len(),
	}).Info("engine ready")
	return e, nil
}

func (e *Engine) rebuildDeps() rebuild.Deps {
	return rebuild.Deps{
		Store:    e.store,
		Lexical:  e.lex,
		Semantic: e.sem,
		Locks:    e.locks,
		Log:      logging.For("rebuild"),
	}
}

// Config returns the configuration the engine was opened with
func (e *Engine) Config() *config.Config { return e.cfg }

// DB returns the database handle
func (e *Engine) DB() *gorm.DB { return e.db }

// Store returns the record store
func (e *Engine) Store() *database.Store { return e.store }

// Manager returns the lifecycle manager
func (e *Engine) Manager() *lifecycle.Manager { return e.manager }

// Ranker returns the hybrid ranker
func (e *Engine) Ranker() *ranker.Ranker { return e.ranker }

// Gateway returns the embedding gateway
func (e *Engine) Gateway() *embeddings.Gateway { return e.gateway }

// Tokens returns the bearer token manager
func (e *Engine) Tokens() *auth.TokenManager { return e.tokens }

// Scheduler returns the maintenance scheduler
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// ToolContext returns the dependencies the MCP tools need
func (e *Engine) ToolContext() *tools.ToolContext {
	return tools.NewToolContext(e.manager, e.ranker, logging.For("tools"))
}

// Ingester returns a session log ingester for the configured directory
func (e *Engine) Ingester() *sessionlog.Ingester {
	c := e.cfg.SessionLog
	return sessionlog.NewIngester(e.manager, c.Dir, c.Scope, c.MaxChars, logging.For("sessionlog"))
}

// Rebuild refills both indexes from the record store
func (e *Engine) Rebuild(ctx context.Context) (*rebuild.Result, error) {
	return rebuild.Rebuild(ctx, e.rebuildDeps())
}

// Verify checks both indexes against the record store
func (e *Engine) Verify(ctx context.Context) (*rebuild.Report, error) {
	return rebuild.Verify(ctx, e.rebuildDeps())
}

// Ensure verifies the indexes and rebuilds them on drift
func (e *Engine) Ensure(ctx context.Context) (*rebuild.Report, error) {
	return rebuild.Ensure(ctx, e.rebuildDeps())
}

// Flush waits for queued embedding work
func (e *Engine) Flush(ctx context.Context) error {
	return e.manager.Flush(ctx)
}

// Close stops maintenance, drains the workers and closes the database
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stopWatch, watchDone := e.stopWatch, e.watchDone
	e.mu.Unlock()

	e.sched.Stop()
	if stopWatch != nil {
		stopWatch()
		<-watchDone
	}

	err := e.manager.Close(ctx)
	e.gateway.Close()
	if relErr := e.locker.ReleaseAll(context.WithoutCancel(ctx), leaseHolder()); relErr != nil {
		e.log.WithError(relErr).Warn("failed to release leases")
	}
	if dbErr := database.Close(e.db); err == nil {
		err = dbErr
	}
	return err
}

// leaseHolder identifies this process in the lease table
func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
