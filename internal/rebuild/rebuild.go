// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rebuild regenerates the derived indexes from the record store and
// checks them for drift.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/lexical"
	"github.com/flandriendev/briven/internal/locking"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/flandriendev/briven/internal/semantic"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Deps are the handles a rebuild reads and resets
type Deps struct {
	Store    *database.Store
	Lexical  *lexical.Index
	Semantic semantic.Index
	Locks    *locking.ScopeLocks
	Log      *logrus.Entry
}

// Result contains statistics from the rebuild operation
type Result struct {
	Scanned           int           `json:"scanned"`
	Lexical           int           `json:"lexical"`
	Semantic          int           `json:"semantic"`
	MissingEmbeddings int           `json:"missing_embeddings"`
	Duration          time.Duration `json:"duration"`
}

// Report is the outcome of Verify
type Report struct {
	Live            int  `json:"live"`
	Embedded        int  `json:"embedded"`
	Lexical         int  `json:"lexical"`
	Semantic        int  `json:"semantic"`
	LexicalMatches  bool `json:"lexical_matches"`
	SemanticMatches bool `json:"semantic_matches"`
}

// OK reports whether both indexes agree with the store
func (r *Report) OK() bool {
	return r.LexicalMatches && r.SemanticMatches
}

// Rebuild empties both indexes and refills them from a full scan of live
// records. Writers in every scope wait until it finishes.
func Rebuild(ctx context.Context, deps Deps) (*Result, error) {
	log := logging.OrNop(deps.Log)
	start := time.Now()

	unlock := deps.Locks.LockAll()
	defer unlock()

	deps.Lexical.Reset()
	if err := deps.Semantic.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset semantic index: %w", err)
	}

	var scanned, embedded, missing atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Store.Each(gctx, database.ScanOptions{}, func(rec *database.MemoryRecord) error {
			scanned.Add(1)
			deps.Lexical.Add(lexical.Document{
				ID:        rec.ID,
				Scope:     rec.Scope,
				CreatedAt: rec.CreatedAt,
				Content:   rec.Content,
			})
			return nil
		})
	})
	g.Go(func() error {
		return deps.Store.Each(gctx, database.ScanOptions{}, func(rec *database.MemoryRecord) error {
			if !rec.HasEmbedding() {
				missing.Add(1)
				return nil
			}
			embedded.Add(1)
			return deps.Semantic.Upsert(gctx, semantic.Entry{
				ID:        rec.ID,
				Scope:     rec.Scope,
				CreatedAt: rec.CreatedAt,
				Vector:    rec.Vector(),
			})
		})
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).WithField("op", "rebuild").Error("index rebuild failed")
		return nil, memory.Wrap("rebuild", "", "", err)
	}

	result := &Result{
		Scanned:           int(scanned.Load()),
		Lexical:           deps.Lexical.Len(),
		Semantic:          deps.Semantic.Len(),
		MissingEmbeddings: int(missing.Load()),
		Duration:          time.Since(start),
	}
	log.WithFields(logrus.Fields{
		"op":       "rebuild",
		"records":  result.Scanned,
		"embedded": embedded.Load(),
		"missing":  result.MissingEmbeddings,
		"duration": result.Duration,
	}).Info("indexes rebuilt")
	return result, nil
}

// Verify compares the live id sets of the store against both indexes. A
// mismatch is reported as memory.ErrIndexCorrupt alongside the report.
func Verify(ctx context.Context, deps Deps) (*Report, error) {
	unlock := deps.Locks.LockAll()
	defer unlock()

	var live, embedded []string
	err := deps.Store.Each(ctx, database.ScanOptions{}, func(rec *database.MemoryRecord) error {
		live = append(live, rec.ID)
		if rec.HasEmbedding() {
			embedded = append(embedded, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, memory.Wrap("verify", "", "", err)
	}

	report := &Report{
		Live:            len(live),
		Embedded:        len(embedded),
		Lexical:         deps.Lexical.Len(),
		Semantic:        deps.Semantic.Len(),
		LexicalMatches:  memory.ChecksumIDs(live) == deps.Lexical.Checksum(),
		SemanticMatches: memory.ChecksumIDs(embedded) == semantic.Checksum(deps.Semantic),
	}
	if !report.OK() {
		return report, fmt.Errorf("%w: lexical %d/%d, semantic %d/%d",
			memory.ErrIndexCorrupt, report.Lexical, report.Live, report.Semantic, report.Embedded)
	}
	return report, nil
}

// Ensure verifies the indexes and rebuilds them when they have drifted
func Ensure(ctx context.Context, deps Deps) (*Report, error) {
	log := logging.OrNop(deps.Log)

	report, err := Verify(ctx, deps)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, memory.ErrIndexCorrupt) {
		return nil, err
	}

	log.WithError(err).WithField("op", "verify").Warn("index drift detected, rebuilding")
	if _, err := Rebuild(ctx, deps); err != nil {
		return nil, err
	}
	return Verify(ctx, deps)
}
