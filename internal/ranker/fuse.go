// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ranker fuses lexical and semantic result lists with weighted
// reciprocal rank fusion.
package ranker

import (
	"sort"
	"time"
)

// DefaultK is the rank smoothing constant
const DefaultK = 60

// Ranked is one entry of an input list, best first
type Ranked struct {
	ID        string
	CreatedAt time.Time
}

// Fused is a candidate with its fused score. A rank of 0 means the
// candidate was absent from that list.
type Fused struct {
	ID           string
	Score        float64
	LexicalRank  int
	SemanticRank int
	CreatedAt    time.Time
}

// FuseOptions parameterizes Fuse
type FuseOptions struct {
	// Weight biases toward semantic evidence (1) or lexical evidence (0)
	Weight float64
	// K smooths the reciprocal ranks
	K int
	// Sentinel is the rank given to a candidate missing from a list.
	// Zero means one past the longer list.
	Sentinel int
	// LexicalOnly scores by lexical rank alone and ignores the semantic list
	LexicalOnly bool
}

// Fuse merges two ranked lists:
//
//	score = w/(rankSemantic+k) + (1-w)/(rankLexical+k)
//
// In lexical-only mode the score is 1/(rankLexical+k). The result is sorted
// by descending score, newer first, then id.
func Fuse(lexical, semantic []Ranked, opts FuseOptions) []Fused {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}
	if opts.LexicalOnly {
		semantic = nil
	}
	sentinel := opts.Sentinel
	if sentinel <= 0 {
		sentinel = max(len(lexical), len(semantic)) + 1
	}

	byID := make(map[string]*Fused, len(lexical)+len(semantic))
	order := make([]*Fused, 0, len(lexical)+len(semantic))
	candidate := func(r Ranked) *Fused {
		f, ok := byID[r.ID]
		if !ok {
			f = &Fused{ID: r.ID, CreatedAt: r.CreatedAt}
			byID[r.ID] = f
			order = append(order, f)
		}
		return f
	}

	for i, r := range lexical {
		if f := candidate(r); f.LexicalRank == 0 {
			f.LexicalRank = i + 1
		}
	}
	for i, r := range semantic {
		if f := candidate(r); f.SemanticRank == 0 {
			f.SemanticRank = i + 1
		}
	}

	out := make([]Fused, 0, len(order))
	for _, f := range order {
		lexRank := rankOr(f.LexicalRank, sentinel)
		if opts.LexicalOnly {
			f.Score = 1 / float64(lexRank+k)
		} else {
			semRank := rankOr(f.SemanticRank, sentinel)
			f.Score = opts.Weight/float64(semRank+k) + (1-opts.Weight)/float64(lexRank+k)
		}
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func rankOr(rank, sentinel int) int {
	if rank == 0 {
		return sentinel
	}
	return rank
}
