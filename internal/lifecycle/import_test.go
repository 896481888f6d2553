// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/embeddings"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Import(t *testing.T) {
	h := setupManager(t, &embeddings.MockClient{}, Config{})
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := h.m.Import(ctx, &database.MemoryRecord{
		ID:        "0190b5c4-0000-7000-8000-000000000001",
		Content:   "  Imported fact about the build farm  ",
		Kind:      memory.KindFact,
		CreatedAt: created,
		Embedding: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	h.flush(t)

	rec, err := h.store.Get(ctx, "0190b5c4-0000-7000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "  Imported fact about the build farm  ", rec.Content)
	assert.Equal(t, memory.DefaultScope, rec.Scope)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, memory.Fingerprint(rec.Content), rec.Fingerprint)
	assert.True(t, rec.HasEmbedding())
	assert.Equal(t, "mock-model", rec.EmbeddingModel)
	assert.True(t, h.lex.Contains(rec.ID))
	assert.Equal(t, 1, h.sem.Len())
}

func TestManager_Import_Tombstoned(t *testing.T) {
	h := setupManager(t, &embeddings.MockClient{}, Config{})
	ctx := context.Background()
	gone := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	err := h.m.Import(ctx, &database.MemoryRecord{
		ID:           "0190b5c4-0000-7000-8000-000000000002",
		Content:      "forgotten",
		Kind:         memory.KindEvent,
		CreatedAt:    gone.Add(-time.Hour),
		TombstonedAt: &gone,
	})
	require.NoError(t, err)
	h.flush(t)

	assert.False(t, h.lex.Contains("0190b5c4-0000-7000-8000-000000000002"))
	assert.Equal(t, 0, h.sem.Len())

	// the tombstone does not block a fresh write of the same content
	res := write(t, h.m, "forgotten", memory.KindEvent, "")
	assert.False(t, res.Deduplicated)
}

func TestManager_Import_Conflicts(t *testing.T) {
	h := setupManager(t, nil, Config{})
	ctx := context.Background()
	live := write(t, h.m, "already here", memory.KindFact, "")

	err := h.m.Import(ctx, &database.MemoryRecord{ID: live.ID, Content: "other", Kind: memory.KindFact})
	assert.ErrorIs(t, err, memory.ErrDuplicateID)

	err = h.m.Import(ctx, &database.MemoryRecord{ID: "fresh-id", Content: "Already here!", Kind: memory.KindFact})
	assert.ErrorIs(t, err, database.ErrFingerprintExists)

	err = h.m.Import(ctx, &database.MemoryRecord{ID: "x", Content: " ", Kind: memory.KindFact})
	assert.ErrorIs(t, err, memory.ErrEmptyContent)

	err = h.m.Import(ctx, &database.MemoryRecord{ID: "y", Content: "z", Kind: "rumor"})
	assert.ErrorIs(t, err, memory.ErrInvalidKind)
}
