// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lifecycle

import (
	"context"
	"sort"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/sirupsen/logrus"
)

// Merge records one superseded copy
type Merge struct {
	ID          string  `json:"id"`
	CanonicalID string  `json:"canonical_id"`
	Similarity  float64 `json:"similarity"`
}

// ConsolidateReport summarizes a Consolidate pass
type ConsolidateReport struct {
	Scope   string  `json:"scope"`
	Scanned int     `json:"scanned"`
	Merged  []Merge `json:"merged"`
}

// Similarity scores two records for consolidation: cosine similarity clamped
// to [0, 1] when both are embedded, token-set Jaccard otherwise
func Similarity(a, b *database.MemoryRecord) float64 {
	if a.HasEmbedding() && b.HasEmbedding() {
		va, vb := a.Vector(), b.Vector()
		if len(va) == len(vb) {
			cos := memory.Cosine(va, vb)
			if cos < 0 {
				return 0
			}
			if cos > 1 {
				return 1
			}
			return cos
		}
	}
	return memory.Similarity(a.Content, b.Content)
}

// Consolidate merges near-duplicate live records of the same kind in scope.
// The newest record of each cluster stays canonical; older copies are
// tombstoned and point at it.
func (m *Manager) Consolidate(ctx context.Context, scope string) (*ConsolidateReport, error) {
	scope = memory.ScopeOrDefault(scope)

	unlock := m.locks.Lock(scope)
	defer unlock()

	var recs []*database.MemoryRecord
	err := m.store.Each(ctx, database.ScanOptions{Scope: scope}, func(rec *database.MemoryRecord) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, memory.Wrap("consolidate", scope, "", err)
	}

	// Newest first so the first member of every cluster is its canonical
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})

	report := &ConsolidateReport{Scope: scope, Scanned: len(recs), Merged: []Merge{}}
	canonicals := make(map[memory.Kind][]*database.MemoryRecord)
	now := m.now()
	touched := make(map[string]bool)

	for _, rec := range recs {
		var best *database.MemoryRecord
		bestSim := 0.0
		for _, c := range canonicals[rec.Kind] {
			if sim := Similarity(rec, c); sim >= m.cfg.DedupThreshold && sim > bestSim {
				best, bestSim = c, sim
			}
		}
		if best == nil {
			canonicals[rec.Kind] = append(canonicals[rec.Kind], rec)
			continue
		}

		if _, err := m.store.Supersede(ctx, rec.ID, best.ID, now); err != nil {
			return report, memory.Wrap("consolidate", scope, rec.ID, err)
		}
		m.unindex(ctx, rec.ID)
		report.Merged = append(report.Merged, Merge{ID: rec.ID, CanonicalID: best.ID, Similarity: bestSim})
		touched[best.ID] = true
	}

	for id := range touched {
		if err := m.store.Touch(ctx, id, now); err != nil {
			return report, memory.Wrap("consolidate", scope, id, err)
		}
	}

	if len(report.Merged) > 0 {
		m.log.WithFields(logrus.Fields{"op": "consolidate", "scope": scope, "merged": len(report.Merged)}).
			Info("consolidated near-duplicates")
	}
	return report, nil
}

// ConsolidateAll runs Consolidate over every scope holding live records
func (m *Manager) ConsolidateAll(ctx context.Context) ([]*ConsolidateReport, error) {
	scopes, err := m.store.LiveScopes(ctx)
	if err != nil {
		return nil, memory.Wrap("consolidate", "", "", err)
	}

	reports := make([]*ConsolidateReport, 0, len(scopes))
	for _, scope := range scopes {
		report, err := m.Consolidate(ctx, scope)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// SweepRetention hard-deletes records tombstoned longer than the retention
// window and returns their ids
func (m *Manager) SweepRetention(ctx context.Context) ([]string, error) {
	unlock := m.locks.LockAll()
	defer unlock()

	cutoff := m.now().Add(-m.cfg.Retention)
	ids, err := m.store.PurgeTombstoned(ctx, cutoff)
	if err != nil {
		m.log.WithError(err).WithField("op", "retention").Error("retention sweep failed")
		return nil, memory.Wrap("retention", "", "", err)
	}

	// Tombstoned ids should already be gone from the indexes
	for _, id := range ids {
		m.unindex(ctx, id)
	}

	if len(ids) > 0 {
		m.log.WithFields(logrus.Fields{"op": "retention", "purged": len(ids), "cutoff": cutoff}).
			Info("purged expired tombstones")
	}
	return ids, nil
}
