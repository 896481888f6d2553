// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, MigrateLeases(db))
	return db
}

func TestLocker_Acquire_Success(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire(ctx, "retention", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	held, holder, err := locker.IsHeld(ctx, "retention")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "proc-1", holder)
}

func TestLocker_Acquire_AlreadyHeld(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	acquired1, err := locker.Acquire(ctx, "retention", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired1)

	acquired2, err := locker.Acquire(ctx, "retention", "proc-2")
	require.NoError(t, err)
	assert.False(t, acquired2)
}

func TestLocker_Acquire_SameHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	acquired1, err := locker.Acquire(ctx, "retention", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired1)

	acquired2, err := locker.Acquire(ctx, "retention", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired2)
}

func TestLocker_Acquire_Expired(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t)).WithTTL(100 * time.Millisecond)

	acquired1, err := locker.Acquire(ctx, "retention", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired1)

	time.Sleep(150 * time.Millisecond)

	acquired2, err := locker.Acquire(ctx, "retention", "proc-2")
	require.NoError(t, err)
	assert.True(t, acquired2)

	_, holder, err := locker.IsHeld(ctx, "retention")
	require.NoError(t, err)
	assert.Equal(t, "proc-2", holder)
}

func TestLocker_Release(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	_, _ = locker.Acquire(ctx, "retention", "proc-1")

	// Only the holder can release
	require.NoError(t, locker.Release(ctx, "retention", "proc-2"))
	held, _, _ := locker.IsHeld(ctx, "retention")
	assert.True(t, held)

	require.NoError(t, locker.Release(ctx, "retention", "proc-1"))
	held, _, _ = locker.IsHeld(ctx, "retention")
	assert.False(t, held)
}

func TestLocker_Extend(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t)).WithTTL(100 * time.Millisecond)

	_, _ = locker.Acquire(ctx, "retention", "proc-1")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, locker.Extend(ctx, "retention", "proc-1"))

	// Past the original TTL
	time.Sleep(60 * time.Millisecond)

	held, _, _ := locker.IsHeld(ctx, "retention")
	assert.True(t, held)
}

func TestLocker_Extend_NotHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	_, _ = locker.Acquire(ctx, "retention", "proc-1")

	err := locker.Extend(ctx, "retention", "proc-2")
	var leaseErr *LeaseError
	assert.ErrorAs(t, err, &leaseErr)
}

func TestLocker_WithLease(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	executed := false
	err := locker.WithLease(ctx, "verify", "proc-1", func(ctx context.Context) error {
		executed = true
		held, holder, _ := locker.IsHeld(ctx, "verify")
		assert.True(t, held)
		assert.Equal(t, "proc-1", holder)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, executed)

	held, _, _ := locker.IsHeld(ctx, "verify")
	assert.False(t, held)
}

func TestLocker_WithLease_OutlivesTTL(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t)).WithTTL(100 * time.Millisecond)

	err := locker.WithLease(ctx, "retention", "proc-1", func(ctx context.Context) error {
		time.Sleep(250 * time.Millisecond)

		held, holder, _ := locker.IsHeld(ctx, "retention")
		assert.True(t, held)
		assert.Equal(t, "proc-1", holder)

		acquired, err := locker.Acquire(ctx, "retention", "proc-2")
		require.NoError(t, err)
		assert.False(t, acquired)
		return nil
	})
	require.NoError(t, err)

	held, _, _ := locker.IsHeld(ctx, "retention")
	assert.False(t, held)
}

func TestLocker_WithLease_Taken(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	_, _ = locker.Acquire(ctx, "verify", "proc-1")

	executed := false
	err := locker.WithLease(ctx, "verify", "proc-2", func(context.Context) error {
		executed = true
		return nil
	})

	var leaseErr *LeaseError
	require.ErrorAs(t, err, &leaseErr)
	assert.Equal(t, "proc-1", leaseErr.Holder)
	assert.False(t, executed)
}

func TestLocker_WithLease_PropagatesError(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))
	boom := errors.New("boom")

	err := locker.WithLease(ctx, "verify", "proc-1", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	held, _, _ := locker.IsHeld(ctx, "verify")
	assert.False(t, held)
}

func TestLocker_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t)).WithTTL(50 * time.Millisecond)

	_, _ = locker.Acquire(ctx, "a", "proc-1")
	_, _ = locker.Acquire(ctx, "b", "proc-1")
	_, _ = locker.Acquire(ctx, "c", "proc-1")

	time.Sleep(100 * time.Millisecond)

	count, err := locker.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLocker_ReleaseAll(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	_, _ = locker.Acquire(ctx, "a", "proc-1")
	_, _ = locker.Acquire(ctx, "b", "proc-1")
	_, _ = locker.Acquire(ctx, "c", "proc-2")

	require.NoError(t, locker.ReleaseAll(ctx, "proc-1"))

	heldA, _, _ := locker.IsHeld(ctx, "a")
	heldB, _, _ := locker.IsHeld(ctx, "b")
	assert.False(t, heldA)
	assert.False(t, heldB)

	heldC, holder, _ := locker.IsHeld(ctx, "c")
	assert.True(t, heldC)
	assert.Equal(t, "proc-2", holder)
}

func TestLocker_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(setupTestDB(t))

	const numProcs = 10
	results := make([]bool, numProcs)
	var wg sync.WaitGroup

	for i := 0; i < numProcs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			acquired, _ := locker.Acquire(ctx, "contested", fmt.Sprintf("proc-%d", idx))
			results[idx] = acquired
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, r := range results {
		if r {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)
}

func TestLease_IsExpired(t *testing.T) {
	now := time.Now()

	lease := Lease{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, lease.IsExpired(now))

	lease.ExpiresAt = now.Add(-time.Hour)
	assert.True(t, lease.IsExpired(now))
}

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0

	err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_MaxRetries(t *testing.T) {
	attempts := 0
	transient := errors.New("transient")

	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, nil, func() error {
		attempts++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NotRetryable(t *testing.T) {
	attempts := 0
	fatal := errors.New("fatal")

	err := RetryWithBackoff(context.Background(), 5, time.Millisecond,
		func(err error) bool { return !errors.Is(err, fatal) },
		func() error {
			attempts++
			return fatal
		})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := RetryWithBackoff(ctx, 5, time.Hour, nil, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry aborted")
	assert.Equal(t, 1, attempts)
}

func TestScopeLocks_SerializesSameScope(t *testing.T) {
	locks := NewScopeLocks()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("default")
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 1, locks.Len())
}

func TestScopeLocks_DifferentScopesDoNotBlock(t *testing.T) {
	locks := NewScopeLocks()

	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on scope b blocked behind scope a")
	}
}

func TestScopeLocks_LockAllExcludesScopes(t *testing.T) {
	locks := NewScopeLocks()

	unlockAll := locks.LockAll()

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("scope lock acquired while LockAll held")
	case <-time.After(50 * time.Millisecond):
	}

	unlockAll()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("scope lock not acquired after LockAll released")
	}
}
