// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lifecycle

import (
	"context"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/locking"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/sirupsen/logrus"
)

// enqueueEmbedding schedules the embedding task for rec unless one is
// already queued. A full queue leaves the record for ReembedMissing.
func (m *Manager) enqueueEmbedding(rec *database.MemoryRecord) bool {
	if !m.embeddingsEnabled() {
		return false
	}

	m.inflightMu.Lock()
	if _, ok := m.inflight[rec.ID]; ok {
		m.inflightMu.Unlock()
		return false
	}
	m.inflight[rec.ID] = struct{}{}
	m.inflightMu.Unlock()

	id, scope, content, createdAt := rec.ID, rec.Scope, rec.Content, rec.CreatedAt
	accepted := m.pool.submit("embed:"+id, func(ctx context.Context) {
		defer m.clearInflight(id)
		m.embed(ctx, &database.MemoryRecord{ID: id, Scope: scope, Content: content, CreatedAt: createdAt})
	})
	if !accepted {
		m.clearInflight(id)
		m.log.WithFields(logrus.Fields{"op": "embed", "scope": scope, "id": id}).
			Warn("embedding queue full, deferring to retry sweep")
	}
	return accepted
}

func (m *Manager) clearInflight(id string) {
	m.inflightMu.Lock()
	delete(m.inflight, id)
	m.inflightMu.Unlock()
}

// embed computes and attaches the vector for rec, retrying with backoff.
// On final failure the record stays lexical-only until the next sweep.
func (m *Manager) embed(ctx context.Context, rec *database.MemoryRecord) {
	fields := logrus.Fields{"op": "embed", "scope": rec.Scope, "id": rec.ID}

	var vec []float32
	err := locking.RetryWithBackoff(ctx, m.cfg.EmbedAttempts, m.cfg.RetryBackoff, nil, func() error {
		var err error
		vec, err = m.embedder.Embed(ctx, rec.Content)
		return err
	})
	if err != nil {
		m.log.WithError(err).WithFields(fields).Warn("embedding abandoned")
		return
	}

	unlock := m.locks.Lock(rec.Scope)
	defer unlock()

	// The record may have been forgotten while the provider was working
	attached, err := m.store.SetEmbedding(ctx, rec.ID, vec, m.embedder.Model())
	if err != nil {
		m.log.WithError(err).WithFields(fields).Error("failed to store embedding")
		return
	}
	if !attached {
		return
	}

	entry := semanticEntry(rec)
	entry.Vector = vec
	if err := m.sem.Upsert(ctx, entry); err != nil {
		m.log.WithError(err).WithFields(fields).Warn("semantic upsert failed")
	}
}

// ReembedMissing queues live records that still lack an embedding, up to
// one batch, and returns how many were queued
func (m *Manager) ReembedMissing(ctx context.Context) (int, error) {
	if !m.embeddingsEnabled() {
		return 0, nil
	}

	recs, err := m.store.MissingEmbeddings(ctx, m.cfg.BatchSize)
	if err != nil {
		return 0, memory.Wrap("reembed", "", "", err)
	}

	queued := 0
	for _, rec := range recs {
		if m.enqueueEmbedding(rec) {
			queued++
		}
	}
	if queued > 0 {
		m.log.WithFields(logrus.Fields{"op": "reembed", "count": queued}).Info("queued missing embeddings")
	}
	return queued, nil
}
