// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package semantic holds vector indexes over record embeddings.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flandriendev/briven/internal/memory"
)

// Entry is the indexable view of an embedded record
type Entry struct {
	ID        string
	Scope     string
	CreatedAt time.Time
	Vector    []float32
}

// Hit is a query result. Score is cosine similarity mapped onto [0, 1].
type Hit struct {
	ID        string
	Score     float64
	CreatedAt time.Time
}

// Index is a nearest-neighbour index. Implementations are safe for
// concurrent use.
type Index interface {
	// Upsert adds or replaces the vector for an id
	Upsert(ctx context.Context, e Entry) error
	// Remove drops an id; removing an absent id is not an error
	Remove(ctx context.Context, id string) error
	// Query returns up to limit hits by descending score. An empty scope
	// searches every scope.
	Query(ctx context.Context, vec []float32, scope string, limit int) ([]Hit, error)
	// Len returns the number of indexed ids
	Len() int
	// IDs returns the indexed ids in no particular order
	IDs() []string
	// Reset empties the index
	Reset() error
}

// Checksum returns an order-independent digest of the ids held by ix
func Checksum(ix Index) string {
	return memory.ChecksumIDs(ix.IDs())
}

// SortHits orders hits by descending score, newer first, then id
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})
}

// New returns the index for a configured backend name
func New(backend string) (Index, error) {
	switch backend {
	case "", "linear":
		return NewLinearIndex(), nil
	case "chromem":
		return NewChromemIndex(), nil
	default:
		return nil, fmt.Errorf("unsupported semantic backend: %s", backend)
	}
}
