// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package semantic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flandriendev/briven/internal/memory"
	chromem "github.com/philippgille/chromem-go"
)

type chromemMeta struct {
	scope     string
	createdAt time.Time
	stored    bool // false for zero vectors, which chromem cannot normalize
}

// ChromemIndex keeps vectors in an embedded chromem-go database, one
// collection per scope.
type ChromemIndex struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	meta        map[string]chromemMeta
}

// NewChromemIndex creates an empty chromem-backed index
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		meta:        make(map[string]chromemMeta),
	}
}

// collection returns the collection for a scope, creating it on first use
func (ix *ChromemIndex) collection(scope string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, exists := ix.collections[scope]
	ix.mu.RUnlock()
	if exists {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := ix.collections[scope]; exists {
		return col, nil
	}

	col, err := ix.db.CreateCollection("scope:"+scope, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	ix.collections[scope] = col
	return col, nil
}

// Upsert adds or overwrites the document for e.ID
func (ix *ChromemIndex) Upsert(ctx context.Context, e Entry) error {
	ix.mu.RLock()
	prev, had := ix.meta[e.ID]
	ix.mu.RUnlock()
	if had && prev.stored && prev.scope != e.Scope {
		if err := ix.Remove(ctx, e.ID); err != nil {
			return err
		}
	}

	stored := memory.Unit(e.Vector) != nil
	if stored {
		col, err := ix.collection(e.Scope)
		if err != nil {
			return err
		}
		doc := chromem.Document{
			ID:        e.ID,
			Content:   e.ID,
			Embedding: e.Vector,
			Metadata: map[string]string{
				"scope":      e.Scope,
				"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document: %w", err)
		}
	}

	ix.mu.Lock()
	ix.meta[e.ID] = chromemMeta{scope: e.Scope, createdAt: e.CreatedAt, stored: stored}
	ix.mu.Unlock()
	return nil
}

// Remove deletes the document for id
func (ix *ChromemIndex) Remove(ctx context.Context, id string) error {
	ix.mu.Lock()
	m, ok := ix.meta[id]
	delete(ix.meta, id)
	col := ix.collections[m.scope]
	ix.mu.Unlock()

	if !ok || !m.stored || col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query asks each matching collection for its nearest neighbours and merges them
func (ix *ChromemIndex) Query(ctx context.Context, vec []float32, scope string, limit int) ([]Hit, error) {
	if memory.Unit(vec) == nil {
		return nil, nil
	}

	ix.mu.RLock()
	var cols []*chromem.Collection
	if scope != "" {
		if col, ok := ix.collections[scope]; ok {
			cols = append(cols, col)
		}
	} else {
		for _, col := range ix.collections {
			cols = append(cols, col)
		}
	}
	ix.mu.RUnlock()

	var hits []Hit
	for _, col := range cols {
		// chromem-go requires nResults <= collection size
		n := col.Count()
		if limit > 0 && limit < n {
			n = limit
		}
		if n == 0 {
			continue
		}

		results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		for _, r := range results {
			created, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
			hits = append(hits, Hit{
				ID:        r.ID,
				Score:     memory.NormalizeScore(float64(r.Similarity)),
				CreatedAt: created,
			})
		}
	}

	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of indexed ids
func (ix *ChromemIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.meta)
}

// IDs returns the indexed ids
func (ix *ChromemIndex) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.meta))
	for id := range ix.meta {
		ids = append(ids, id)
	}
	return ids
}

// Reset drops every collection
func (ix *ChromemIndex) Reset() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for scope := range ix.collections {
		if err := ix.db.DeleteCollection("scope:" + scope); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
	}
	ix.collections = make(map[string]*chromem.Collection)
	ix.meta = make(map[string]chromemMeta)
	return nil
}
