// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package ranker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/lexical"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/flandriendev/briven/internal/semantic"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidWeight is returned for a weight outside [0, 1]
var ErrInvalidWeight = errors.New("weight must be between 0 and 1")

// Embedder turns query text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds search defaults
type Config struct {
	Weight    float64
	Limit     int
	Overfetch int
	K         int
	Timeout   time.Duration
}

// Request is a search request. Zero values take the configured defaults.
type Request struct {
	Query   string
	Scope   string
	Limit   int
	Weight  *float64
	Timeout time.Duration
}

// Result is one ranked record
type Result struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Kind      memory.Kind `json:"kind"`
	Scope     string      `json:"scope"`
	Source    string      `json:"source"`
	CreatedAt time.Time   `json:"created_at"`
	Score     float64     `json:"score"`
	Degraded  bool        `json:"degraded"`
}

// Response is the outcome of a search. Degraded means semantic recall was
// unavailable and the ranking is lexical only.
type Response struct {
	Results  []Result `json:"results"`
	Degraded bool     `json:"degraded"`
}

// Ranker answers hybrid queries over both indexes
type Ranker struct {
	store    *database.Store
	lex      *lexical.Index
	sem      semantic.Index
	embedder Embedder
	cfg      Config
	log      *logrus.Entry
}

// New creates a ranker. A nil embedder makes every search degraded.
func New(store *database.Store, lex *lexical.Index, sem semantic.Index, embedder Embedder, cfg Config, log *logrus.Entry) *Ranker {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = 3
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Ranker{
		store:    store,
		lex:      lex,
		sem:      sem,
		embedder: embedder,
		cfg:      cfg,
		log:      logging.OrNop(log),
	}
}

// Search runs the lexical and semantic queries in parallel and fuses them.
// Semantic failures never fail the search; they mark it degraded.
func (r *Ranker) Search(ctx context.Context, req Request) (*Response, error) {
	weight := r.cfg.Weight
	if req.Weight != nil {
		weight = *req.Weight
	}
	if weight < 0 || weight > 1 {
		return nil, ErrInvalidWeight
	}
	limit := req.Limit
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	scope := strings.TrimSpace(req.Scope)
	fetch := limit * r.cfg.Overfetch

	var lexHits []lexical.Hit
	var semHits []semantic.Hit
	var semErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexHits = r.lex.Query(req.Query, scope, fetch)
		return nil
	})
	g.Go(func() error {
		semHits, semErr = r.semanticQuery(gctx, req.Query, scope, fetch, timeout)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	degraded := semErr != nil || len(semHits) == 0
	if semErr != nil {
		r.log.WithError(semErr).WithFields(logrus.Fields{"op": "search", "scope": scope}).
			Warn("semantic recall unavailable, ranking lexically")
	}

	fused := Fuse(lexicalRanked(lexHits), semanticRanked(semHits), FuseOptions{
		Weight:      weight,
		K:           r.cfg.K,
		Sentinel:    fetch + 1,
		LexicalOnly: degraded,
	})

	results, err := r.hydrate(ctx, fused, scope, limit, degraded)
	if err != nil {
		return nil, memory.Wrap("search", scope, "", err)
	}
	return &Response{Results: results, Degraded: degraded}, nil
}

// semanticQuery embeds the query and searches the vector index, giving up
// once timeout elapses even if the provider ignores cancellation
func (r *Ranker) semanticQuery(ctx context.Context, text, scope string, limit int, timeout time.Duration) ([]semantic.Hit, error) {
	if r.embedder == nil {
		return nil, memory.ErrEmbeddingUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		hits []semantic.Hit
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		vec, err := r.embedder.Embed(ctx, text)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		hits, err := r.sem.Query(ctx, vec, scope, limit)
		done <- outcome{hits: hits, err: err}
	}()

	select {
	case out := <-done:
		return out.hits, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("semantic query: %w", ctx.Err())
	}
}

// hydrate loads the fused candidates and drops anything tombstoned, purged
// or outside scope that a stale index entry surfaced
func (r *Ranker) hydrate(ctx context.Context, fused []Fused, scope string, limit int, degraded bool) ([]Result, error) {
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	recs, err := r.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, min(limit, len(fused)))
	for _, f := range fused {
		rec, ok := recs[f.ID]
		if !ok || rec.IsTombstoned() {
			continue
		}
		if scope != "" && rec.Scope != scope {
			continue
		}
		results = append(results, Result{
			ID:        rec.ID,
			Content:   rec.Content,
			Kind:      rec.Kind,
			Scope:     rec.Scope,
			Source:    rec.Source,
			CreatedAt: rec.CreatedAt,
			Score:     f.Score,
			Degraded:  degraded || !rec.HasEmbedding(),
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func lexicalRanked(hits []lexical.Hit) []Ranked {
	out := make([]Ranked, len(hits))
	for i, h := range hits {
		out[i] = Ranked{ID: h.ID, CreatedAt: h.CreatedAt}
	}
	return out
}

func semanticRanked(hits []semantic.Hit) []Ranked {
	out := make([]Ranked, len(hits))
	for i, h := range hits {
		out[i] = Ranked{ID: h.ID, CreatedAt: h.CreatedAt}
	}
	return out
}
