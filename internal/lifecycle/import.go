// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/sirupsen/logrus"
)

// Import stores a record carried over from another store, keeping its id,
// timestamps and tombstone. Embeddings are never imported; live records are
// queued for embedding like fresh writes. A taken id yields ErrDuplicateID
// and live content already held in the scope yields ErrFingerprintExists.
func (m *Manager) Import(ctx context.Context, rec *database.MemoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("import: record id is required")
	}
	if strings.TrimSpace(rec.Content) == "" {
		return memory.Wrap("import", rec.Scope, rec.ID, memory.ErrEmptyContent)
	}
	if !rec.Kind.Valid() {
		return memory.Wrap("import", rec.Scope, rec.ID, fmt.Errorf("%w: %q", memory.ErrInvalidKind, rec.Kind))
	}
	rec.Scope = memory.ScopeOrDefault(rec.Scope)
	rec.Fingerprint = memory.Fingerprint(rec.Content)
	rec.Embedding = nil
	rec.EmbeddingModel = ""
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	unlock := m.locks.Lock(rec.Scope)
	defer unlock()

	if err := m.store.Put(ctx, rec); err != nil {
		return memory.Wrap("import", rec.Scope, rec.ID, err)
	}
	if !rec.IsTombstoned() {
		m.lex.Add(lexicalDocument(rec))
		m.enqueueEmbedding(rec)
	}

	m.log.WithFields(logrus.Fields{"op": "import", "scope": rec.Scope, "id": rec.ID}).Debug("memory imported")
	return nil
}
