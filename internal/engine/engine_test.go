// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flandriendev/briven/internal/config"
	"github.com/flandriendev/briven/internal/embeddings"
	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/flandriendev/briven/internal/ranker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(dir, "briven.db")
	cfg.Embeddings.RetryBackoffMS = 1
	cfg.SessionLog.Dir = filepath.Join(dir, "logs")
	cfg.SessionLog.Scope = "agent"
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config, client embeddings.Client) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, WithEmbeddingClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

func write(t *testing.T, e *Engine, content string, kind memory.Kind) string {
	t.Helper()
	res, err := e.Manager().Write(context.Background(), lifecycle.WriteRequest{
		Content: content, Kind: kind, Source: "chat", Scope: "default",
	})
	require.NoError(t, err)
	return res.ID
}

func search(t *testing.T, e *Engine, query string) *ranker.Response {
	t.Helper()
	resp, err := e.Ranker().Search(context.Background(), ranker.Request{Query: query, Scope: "default", Limit: 5})
	require.NoError(t, err)
	return resp
}

func TestEngine_DarkModeScenario(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lifecycle.DedupSimilarityThreshold = 0.85
	e := openEngine(t, cfg, &embeddings.MockClient{EmbedFunc: embeddings.KeywordEmbedding("dark", "mode")})
	ctx := context.Background()

	write(t, e, "User prefers dark mode", memory.KindPreference)
	write(t, e, "User likes dark mode UI", memory.KindPreference)
	flush(t, e)

	_, err := e.Manager().Consolidate(ctx, "default")
	require.NoError(t, err)

	n, err := e.Store().CountLive(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	resp := search(t, e, "dark mode")
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "User likes dark mode UI", resp.Results[0].Content)
}

func TestEngine_ReopenRebuildsIndexes(t *testing.T) {
	cfg := testConfig(t)
	client := &embeddings.MockClient{}

	e, err := Open(context.Background(), cfg, WithEmbeddingClient(client))
	require.NoError(t, err)
	write(t, e, "The backup job runs at midnight", memory.KindFact)
	gone := write(t, e, "The old backup job ran hourly", memory.KindFact)
	write(t, e, "Coffee machine is on the second floor", memory.KindFact)
	flush(t, e)
	require.NoError(t, e.Manager().Forget(context.Background(), gone))
	before := search(t, e, "backup job")
	require.NoError(t, e.Close(context.Background()))

	reopened := openEngine(t, cfg, client)
	report, err := reopened.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Live)
	assert.Equal(t, 2, report.Embedded)

	after := search(t, reopened, "backup job")
	require.Equal(t, len(before.Results), len(after.Results))
	for i := range before.Results {
		assert.Equal(t, before.Results[i].ID, after.Results[i].ID)
		assert.InDelta(t, before.Results[i].Score, after.Results[i].Score, 1e-9)
	}
	for _, r := range after.Results {
		assert.NotEqual(t, gone, r.ID)
	}
	// cached vectors are reused, so reopening never calls the provider again
	assert.Equal(t, 3+1, client.CallCount())
}

func TestEngine_NoProviderIsDegraded(t *testing.T) {
	e := openEngine(t, testConfig(t), nil)
	write(t, e, "Degraded but present", memory.KindFact)

	resp := search(t, e, "present")
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "disabled", e.Gateway().State())
}

func TestEngine_Sweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lifecycle.Retention = time.Nanosecond
	e := openEngine(t, cfg, nil)
	ctx := context.Background()

	id := write(t, e, "short lived", memory.KindEvent)
	require.NoError(t, e.Manager().Forget(ctx, id))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, e.Sweep(ctx))
	_, err := e.Store().Get(ctx, id)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestEngine_Jobs(t *testing.T) {
	e := openEngine(t, testConfig(t), nil)
	assert.Equal(t, []string{JobReembed, JobRetention, JobTokens, JobVerify}, e.Scheduler().Jobs())
	for _, name := range e.Scheduler().Jobs() {
		assert.NoError(t, e.Scheduler().RunOnce(context.Background(), name), name)
	}
}

func TestEngine_BackupJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Enabled = true
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "backup")
	e := openEngine(t, cfg, nil)
	ctx := context.Background()

	assert.Contains(t, e.Scheduler().Jobs(), JobBackup)
	write(t, e, "The on-call rotation changes on Mondays", memory.KindFact)

	res, err := e.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.NotEmpty(t, res.Commit)

	require.NoError(t, e.Scheduler().RunOnce(ctx, JobBackup))
	_, err = os.Stat(filepath.Join(cfg.Backup.Dir, "snapshot.yaml"))
	assert.NoError(t, err)
}

func TestEngine_SessionLogWatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionLog.Watch = true
	e := openEngine(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartMaintenance(ctx)

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SessionLog.Dir)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SessionLog.Dir, "2024-06-01.md"), []byte("Shipped the search rewrite."), 0644))

	assert.Eventually(t, func() bool {
		resp, err := e.Ranker().Search(context.Background(), ranker.Request{Query: "search rewrite", Scope: "agent"})
		return err == nil && len(resp.Results) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e, err := Open(context.Background(), testConfig(t), WithEmbeddingClient(nil))
	require.NoError(t, err)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))
}
