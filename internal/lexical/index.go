// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package lexical implements an in-memory BM25 inverted index over record content.
package lexical

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/flandriendev/briven/internal/memory"
)

// Default BM25 parameters
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Document is the indexable view of a record
type Document struct {
	ID        string
	Scope     string
	CreatedAt time.Time
	Content   string
}

// Hit is a scored query result
type Hit struct {
	ID        string
	Score     float64
	CreatedAt time.Time
}

type entry struct {
	scope     string
	createdAt time.Time
	length    int
	terms     map[string]int
}

// Index is a BM25 scorer. Corpus statistics span every scope; a scope on a
// query only filters candidates.
type Index struct {
	mu       sync.RWMutex
	k1       float64
	b        float64
	docs     map[string]*entry
	postings map[string]map[string]int // term -> id -> term frequency
	totalLen int
}

// New creates an empty index
func New(k1, b float64) *Index {
	return &Index{
		k1:       k1,
		b:        b,
		docs:     make(map[string]*entry),
		postings: make(map[string]map[string]int),
	}
}

// Add indexes a document, replacing any previous entry with the same id
func (ix *Index) Add(doc Document) {
	terms := make(map[string]int)
	length := 0
	for _, term := range memory.Tokenize(doc.Content) {
		terms[term]++
		length++
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(doc.ID)

	ix.docs[doc.ID] = &entry{
		scope:     doc.Scope,
		createdAt: doc.CreatedAt,
		length:    length,
		terms:     terms,
	}
	ix.totalLen += length
	for term, tf := range terms {
		p, ok := ix.postings[term]
		if !ok {
			p = make(map[string]int)
			ix.postings[term] = p
		}
		p[doc.ID] = tf
	}
}

// Remove drops a document. It reports whether the id was present.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeLocked(id)
}

func (ix *Index) removeLocked(id string) bool {
	e, ok := ix.docs[id]
	if !ok {
		return false
	}
	for term := range e.terms {
		p := ix.postings[term]
		delete(p, id)
		if len(p) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalLen -= e.length
	delete(ix.docs, id)
	return true
}

// Query scores documents against text and returns up to limit hits ordered by
// descending score, newer created_at first on ties, then id. A non-positive
// limit returns every match.
func (ix *Index) Query(text, scope string, limit int) []Hit {
	terms := uniqueTerms(memory.Tokenize(text))
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docs)
	if n == 0 {
		return nil
	}
	avgdl := float64(ix.totalLen) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		p, ok := ix.postings[term]
		if !ok {
			continue
		}
		df := float64(len(p))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for id, tf := range p {
			e := ix.docs[id]
			if scope != "" && e.scope != scope {
				continue
			}
			f := float64(tf)
			norm := ix.k1 * (1 - ix.b + ix.b*float64(e.length)/avgdl)
			scores[id] += idf * f * (ix.k1 + 1) / (f + norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score, CreatedAt: ix.docs[id].createdAt})
	}
	SortHits(hits)

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
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

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Contains reports whether id is indexed
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[id]
	return ok
}

// Len returns the number of indexed documents
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// IDs returns the indexed ids in no particular order
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.docs))
	for id := range ix.docs {
		ids = append(ids, id)
	}
	return ids
}

// Checksum returns an order-independent digest of the indexed ids
func (ix *Index) Checksum() string {
	return memory.ChecksumIDs(ix.IDs())
}

// Reset empties the index
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = make(map[string]*entry)
	ix.postings = make(map[string]map[string]int)
	ix.totalLen = 0
}
