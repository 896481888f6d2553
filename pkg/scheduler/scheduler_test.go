// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/locking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupLocker(t *testing.T) *locking.Locker {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, locking.MigrateLeases(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return locking.NewLocker(db)
}

func TestScheduler_RunOnce(t *testing.T) {
	s := NewScheduler(setupLocker(t), "proc-a", nil)
	var runs int32
	s.Add(Job{Name: "sweep", Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})

	require.NoError(t, s.RunOnce(context.Background(), "sweep"))
	require.NoError(t, s.RunOnce(context.Background(), "sweep"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	assert.Equal(t, []string{"sweep"}, s.Jobs())
}

func TestScheduler_RunOnce_UnknownJob(t *testing.T) {
	s := NewScheduler(nil, "proc-a", nil)
	err := s.RunOnce(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_RunOnce_PropagatesError(t *testing.T) {
	s := NewScheduler(nil, "proc-a", nil)
	boom := errors.New("boom")
	s.Add(Job{Name: "verify", Run: func(ctx context.Context) error { return boom }})
	assert.ErrorIs(t, s.RunOnce(context.Background(), "verify"), boom)
}

func TestScheduler_SkipsWhenLeaseHeld(t *testing.T) {
	locker := setupLocker(t)
	ctx := context.Background()
	acquired, err := locker.Acquire(ctx, "job:sweep", "proc-b")
	require.NoError(t, err)
	require.True(t, acquired)

	s := NewScheduler(locker, "proc-a", nil)
	var runs int32
	s.Add(Job{Name: "sweep", Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})

	require.NoError(t, s.RunOnce(ctx, "sweep"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	require.NoError(t, locker.Release(ctx, "job:sweep", "proc-b"))
	require.NoError(t, s.RunOnce(ctx, "sweep"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_ReleasesLeaseAfterRun(t *testing.T) {
	locker := setupLocker(t)
	s := NewScheduler(locker, "proc-a", nil)
	s.Add(Job{Name: "reembed", Run: func(ctx context.Context) error {
		held, holder, err := locker.IsHeld(ctx, "job:reembed")
		require.NoError(t, err)
		assert.True(t, held)
		assert.Equal(t, "proc-a", holder)
		return nil
	}})

	require.NoError(t, s.RunOnce(context.Background(), "reembed"))
	held, _, err := locker.IsHeld(context.Background(), "job:reembed")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(setupLocker(t), "proc-a", nil)
	var ticks, manual int32
	s.Add(Job{Name: "tick", Interval: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	}})
	s.Add(Job{Name: "manual", Run: func(ctx context.Context) error {
		atomic.AddInt32(&manual, 1)
		return nil
	}})

	s.Start(context.Background())
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 }, 5*time.Second, 10*time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&ticks)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&ticks))
	assert.Equal(t, int32(0), atomic.LoadInt32(&manual))
}
