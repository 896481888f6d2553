// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package lifecycle owns every mutation of the record store and keeps the
// lexical and semantic indexes in step with it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/lexical"
	"github.com/flandriendev/briven/internal/locking"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/flandriendev/briven/internal/semantic"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Embedder is the embedding gateway as seen by the write path
type Embedder interface {
	Enabled() bool
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the manager
type Config struct {
	Workers   int
	QueueSize int
	// DedupThreshold is the similarity at or above which Consolidate merges
	DedupThreshold float64
	// Retention is how long a tombstone survives before SweepRetention purges it
	Retention time.Duration
	// EmbedAttempts is the total number of tries per embedding task
	EmbedAttempts int
	RetryBackoff  time.Duration
	// BatchSize bounds one ReembedMissing pass
	BatchSize int
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		DedupThreshold: 0.85,
		Retention:      30 * 24 * time.Hour,
		EmbedAttempts:  3,
		RetryBackoff:   200 * time.Millisecond,
		BatchSize:      20,
	}
}

// Deps are the shared handles the manager mutates
type Deps struct {
	Store    *database.Store
	Lexical  *lexical.Index
	Semantic semantic.Index
	Embedder Embedder
	Locks    *locking.ScopeLocks
	Log      *logrus.Entry
}

// WriteRequest is the input of Write
type WriteRequest struct {
	Content string
	Kind    memory.Kind
	Source  string
	Scope   string
}

// WriteResult tells the caller which record holds the content
type WriteResult struct {
	ID           string `json:"id"`
	Deduplicated bool   `json:"deduplicated"`
}

// Manager is the only component that mutates the record store
type Manager struct {
	store    *database.Store
	lex      *lexical.Index
	sem      semantic.Index
	embedder Embedder
	locks    *locking.ScopeLocks
	pool     *pool
	cfg      Config
	log      *logrus.Entry
	now      func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a manager and starts its worker pool
func New(deps Deps, cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = defaults.DedupThreshold
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaults.Retention
	}
	if cfg.EmbedAttempts <= 0 {
		cfg.EmbedAttempts = defaults.EmbedAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	locks := deps.Locks
	if locks == nil {
		locks = locking.NewScopeLocks()
	}
	log := logging.OrNop(deps.Log)

	return &Manager{
		store:    deps.Store,
		lex:      deps.Lexical,
		sem:      deps.Semantic,
		embedder: deps.Embedder,
		locks:    locks,
		pool:     newPool(cfg.Workers, cfg.QueueSize, log),
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

func (m *Manager) embeddingsEnabled() bool {
	return m.embedder != nil && m.embedder.Enabled()
}

// Write stores content, or returns the live record in the same scope that
// already holds it. The record is lexically searchable on return; its
// embedding follows asynchronously.
func (m *Manager) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	// Content is stored exactly as given; trimming only decides emptiness
	content := req.Content
	if strings.TrimSpace(content) == "" {
		return WriteResult{}, memory.ErrEmptyContent
	}
	if !req.Kind.Valid() {
		return WriteResult{}, fmt.Errorf("%w: %q", memory.ErrInvalidKind, req.Kind)
	}
	scope := memory.ScopeOrDefault(req.Scope)

	unlock := m.locks.Lock(scope)
	defer unlock()

	res, err := m.writeLocked(ctx, content, req.Kind, strings.TrimSpace(req.Source), scope)
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"op": "write", "scope": scope}).Error("write failed")
		return WriteResult{}, memory.Wrap("write", scope, "", err)
	}
	return res, nil
}

// writeLocked runs the dedup check and insert; the caller holds the scope lock
func (m *Manager) writeLocked(ctx context.Context, content string, kind memory.Kind, source, scope string) (WriteResult, error) {
	fingerprint := memory.Fingerprint(content)
	now := m.now()

	existing, err := m.store.FindLiveByFingerprint(ctx, scope, fingerprint)
	switch {
	case err == nil:
		if err := m.store.Touch(ctx, existing.ID, now); err != nil {
			return WriteResult{}, err
		}
		return WriteResult{ID: existing.ID, Deduplicated: true}, nil
	case !errors.Is(err, memory.ErrNotFound):
		return WriteResult{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to generate id: %w", err)
	}
	rec := &database.MemoryRecord{
		ID:          id.String(),
		Content:     content,
		Kind:        kind,
		Source:      source,
		Scope:       scope,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.Put(ctx, rec); err != nil {
		if !errors.Is(err, database.ErrFingerprintExists) {
			return WriteResult{}, err
		}
		// Another process sharing the database won the race
		winner, err := m.store.FindLiveByFingerprint(ctx, scope, fingerprint)
		if err != nil {
			return WriteResult{}, err
		}
		if err := m.store.Touch(ctx, winner.ID, now); err != nil {
			return WriteResult{}, err
		}
		m.ensureIndexed(ctx, winner)
		return WriteResult{ID: winner.ID, Deduplicated: true}, nil
	}

	m.lex.Add(lexicalDocument(rec))
	m.enqueueEmbedding(rec)

	m.log.WithFields(logrus.Fields{"op": "write", "scope": scope, "id": rec.ID, "kind": kind}).Debug("memory written")
	return WriteResult{ID: rec.ID}, nil
}

// Get returns a record by id, including tombstoned ones
func (m *Manager) Get(ctx context.Context, id string) (*database.MemoryRecord, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, memory.Wrap("get", "", id, err)
	}
	return rec, nil
}

// Forget tombstones a record and drops it from both indexes. Forgetting an
// already forgotten record succeeds.
func (m *Manager) Forget(ctx context.Context, id string) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return memory.Wrap("forget", "", id, err)
	}

	unlock := m.locks.Lock(rec.Scope)
	defer unlock()

	changed, err := m.store.Tombstone(ctx, id, m.now())
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"op": "forget", "scope": rec.Scope, "id": id}).Error("tombstone failed")
		return memory.Wrap("forget", rec.Scope, id, err)
	}
	m.unindex(ctx, id)

	if changed {
		m.log.WithFields(logrus.Fields{"op": "forget", "scope": rec.Scope, "id": id}).Debug("memory forgotten")
	}
	return nil
}

// Restore brings a tombstoned record back. When a live record in the same
// scope already holds the content, the tombstone stays and that record's id
// is returned instead.
func (m *Manager) Restore(ctx context.Context, id string) (string, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return "", memory.Wrap("restore", "", id, err)
	}

	unlock := m.locks.Lock(rec.Scope)
	defer unlock()

	err = m.store.Restore(ctx, id, m.now())
	if errors.Is(err, database.ErrFingerprintExists) {
		live, err := m.store.FindLiveByFingerprint(ctx, rec.Scope, rec.Fingerprint)
		if err != nil {
			return "", memory.Wrap("restore", rec.Scope, id, err)
		}
		return live.ID, nil
	}
	if err != nil {
		return "", memory.Wrap("restore", rec.Scope, id, err)
	}

	restored, err := m.store.Get(ctx, id)
	if err != nil {
		return "", memory.Wrap("restore", rec.Scope, id, err)
	}
	m.ensureIndexed(ctx, restored)

	m.log.WithFields(logrus.Fields{"op": "restore", "scope": rec.Scope, "id": id}).Debug("memory restored")
	return id, nil
}

// Replace writes content as a new record carrying the old record's kind,
// source and scope, then tombstones the old record and links it to the new one
func (m *Manager) Replace(ctx context.Context, id, content string) (WriteResult, error) {
	if strings.TrimSpace(content) == "" {
		return WriteResult{}, memory.ErrEmptyContent
	}

	old, err := m.store.Get(ctx, id)
	if err != nil {
		return WriteResult{}, memory.Wrap("replace", "", id, err)
	}
	if old.IsTombstoned() {
		return WriteResult{}, memory.Wrap("replace", old.Scope, id, memory.ErrNotFound)
	}

	unlock := m.locks.Lock(old.Scope)
	defer unlock()

	res, err := m.writeLocked(ctx, content, old.Kind, old.Source, old.Scope)
	if err != nil {
		return WriteResult{}, memory.Wrap("replace", old.Scope, id, err)
	}
	if res.ID == id {
		return res, nil
	}

	if _, err := m.store.Supersede(ctx, id, res.ID, m.now()); err != nil {
		return WriteResult{}, memory.Wrap("replace", old.Scope, id, err)
	}
	m.unindex(ctx, id)
	return res, nil
}

// LatestBySource returns the newest live record written by source in scope
func (m *Manager) LatestBySource(ctx context.Context, scope, source string) (*database.MemoryRecord, error) {
	return m.store.LatestLiveBySource(ctx, memory.ScopeOrDefault(scope), source)
}

// ensureIndexed puts a live record into both indexes, queueing an embedding
// when it has none
func (m *Manager) ensureIndexed(ctx context.Context, rec *database.MemoryRecord) {
	m.lex.Add(lexicalDocument(rec))
	if !rec.HasEmbedding() {
		m.enqueueEmbedding(rec)
		return
	}
	if err := m.sem.Upsert(ctx, semanticEntry(rec)); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"op": "index", "scope": rec.Scope, "id": rec.ID}).
			Warn("semantic upsert failed")
	}
}

// unindex drops id from both indexes
func (m *Manager) unindex(ctx context.Context, id string) {
	m.lex.Remove(id)
	if err := m.sem.Remove(ctx, id); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"op": "unindex", "id": id}).Warn("semantic remove failed")
	}
}

// Flush waits for queued embedding tasks to finish
func (m *Manager) Flush(ctx context.Context) error {
	return m.pool.flush(ctx)
}

// Pending returns the number of queued or running background tasks
func (m *Manager) Pending() int {
	return m.pool.queued()
}

// Close stops the worker pool, letting queued tasks finish until ctx expires
func (m *Manager) Close(ctx context.Context) error {
	return m.pool.close(ctx)
}

func lexicalDocument(rec *database.MemoryRecord) lexical.Document {
	return lexical.Document{
		ID:        rec.ID,
		Scope:     rec.Scope,
		CreatedAt: rec.CreatedAt,
		Content:   rec.Content,
	}
}

func semanticEntry(rec *database.MemoryRecord) semantic.Entry {
	return semantic.Entry{
		ID:        rec.ID,
		Scope:     rec.Scope,
		CreatedAt: rec.CreatedAt,
		Vector:    rec.Vector(),
	}
}
