// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestGateway(t *testing.T, client Client, db *gorm.DB, timeout time.Duration) *Gateway {
	t.Helper()
	g, err := NewGateway(client, db, GatewayConfig{
		Timeout:           timeout,
		RequestsPerSecond: 1000,
		Burst:             100,
		Breaker:           BreakerConfig{MaxFailures: 3, Timeout: time.Minute},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestGateway_Disabled(t *testing.T) {
	g := newTestGateway(t, nil, nil, time.Second)

	assert.False(t, g.Enabled())
	assert.Equal(t, "disabled", g.State())

	_, err := g.Embed(context.Background(), "anything")
	assert.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
}

func TestGateway_EmbedAndPersistentCache(t *testing.T) {
	db := setupTestDB(t)
	mock := &MockClient{}
	g := newTestGateway(t, mock, db, time.Second)

	v1, err := g.Embed(context.Background(), "test content")
	require.NoError(t, err)
	assert.Len(t, v1, MockDimensions)
	assert.Equal(t, 1, mock.CallCount())

	// A fresh gateway over the same database reuses the stored vector
	g2 := newTestGateway(t, mock, db, time.Second)
	v2, err := g2.Embed(context.Background(), "test content")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, mock.CallCount())

	count, err := NewCache(db).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGateway_CacheKeyedByModel(t *testing.T) {
	db := setupTestDB(t)
	a := &MockClient{Model: "model-a"}
	b := &MockClient{Model: "model-b"}

	_, err := newTestGateway(t, a, db, time.Second).Embed(context.Background(), "same text")
	require.NoError(t, err)
	_, err = newTestGateway(t, b, db, time.Second).Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, 1, a.CallCount())
	assert.Equal(t, 1, b.CallCount())
}

func TestGateway_TimeoutIsUnavailable(t *testing.T) {
	mock := &MockClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	g := newTestGateway(t, mock, nil, 20*time.Millisecond)

	start := time.Now()
	_, err := g.Embed(context.Background(), "slow")
	assert.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateway_ProviderErrorIsUnavailable(t *testing.T) {
	mock := &MockClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("boom")
		},
	}
	g := newTestGateway(t, mock, nil, time.Second)

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
	assert.Contains(t, err.Error(), "boom")
}

func TestGateway_EmptyVectorIsUnavailable(t *testing.T) {
	mock := &MockClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, nil
		},
	}
	g := newTestGateway(t, mock, nil, time.Second)

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
}

func TestGateway_CircuitOpensAfterFailures(t *testing.T) {
	mock := &MockClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("provider down")
		},
	}
	g := newTestGateway(t, mock, nil, time.Second)

	for i := 0; i < 3; i++ {
		_, err := g.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, memory.ErrEmbeddingUnavailable)
	assert.Contains(t, err.Error(), ErrCircuitOpen.Error())
	assert.Equal(t, 3, mock.CallCount())
}

func TestKeywordEmbedding(t *testing.T) {
	embed := KeywordEmbedding("dark", "mode")
	a, err := embed(context.Background(), "User prefers dark mode")
	require.NoError(t, err)
	b, err := embed(context.Background(), "User likes dark mode UI")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, memory.Cosine(a, b), 1e-9)

	c, err := embed(context.Background(), "Meeting on Friday")
	require.NoError(t, err)
	assert.Less(t, memory.Cosine(a, c), 0.1)
}

func TestBagOfWords(t *testing.T) {
	a := BagOfWords("Dark mode!", 16)
	b := BagOfWords("dark MODE", 16)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	var sum float32
	for _, f := range a {
		sum += f
	}
	assert.Equal(t, float32(2), sum)
}
