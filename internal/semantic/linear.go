// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package semantic

import (
	"context"
	"sync"

	"github.com/flandriendev/briven/internal/memory"
)

type linearEntry struct {
	scope string
	entry Entry
	unit  []float32
}

// LinearIndex answers queries with an exact scan over unit vectors
type LinearIndex struct {
	mu      sync.RWMutex
	entries map[string]*linearEntry
}

// NewLinearIndex creates an empty exact index
func NewLinearIndex() *LinearIndex {
	return &LinearIndex{entries: make(map[string]*linearEntry)}
}

// Upsert stores the normalized vector. A zero vector is kept but never matches.
func (ix *LinearIndex) Upsert(_ context.Context, e Entry) error {
	unit := memory.Unit(e.Vector)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[e.ID] = &linearEntry{scope: e.Scope, entry: e, unit: unit}
	return nil
}

// Remove drops an id
func (ix *LinearIndex) Remove(_ context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
	return nil
}

// Query scans every entry in scope. Entries whose dimension differs from
// the query are skipped.
func (ix *LinearIndex) Query(ctx context.Context, vec []float32, scope string, limit int) ([]Hit, error) {
	q := memory.Unit(vec)
	if q == nil {
		return nil, nil
	}

	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.entries))
	for id, e := range ix.entries {
		if scope != "" && e.scope != scope {
			continue
		}
		if e.unit == nil || len(e.unit) != len(q) {
			continue
		}
		hits = append(hits, Hit{
			ID:        id,
			Score:     memory.NormalizeScore(dot(q, e.unit)),
			CreatedAt: e.entry.CreatedAt,
		})
	}
	ix.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// dot is unrolled by four so the compiler can keep the accumulators in registers
func dot(a, b []float32) float64 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return float64(s0 + s1 + s2 + s3)
}

// Len returns the number of indexed ids
func (ix *LinearIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// IDs returns the indexed ids
func (ix *LinearIndex) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.entries))
	for id := range ix.entries {
		ids = append(ids, id)
	}
	return ids
}

// Reset empties the index
func (ix *LinearIndex) Reset() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]*linearEntry)
	return nil
}
