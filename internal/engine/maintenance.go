// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"os"

	"github.com/flandriendev/briven/internal/backup"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/sessionlog"
	"github.com/flandriendev/briven/internal/snapshot"
	"github.com/flandriendev/briven/pkg/scheduler"
)

func (e *Engine) newScheduler() *scheduler.Scheduler {
	lc := e.cfg.Lifecycle
	s := scheduler.NewScheduler(e.locker, leaseHolder(), logging.For("scheduler"))

	s.Add(scheduler.Job{Name: JobRetention, Interval: lc.RetentionSweepInterval, Run: func(ctx context.Context) error {
		purged, err := e.manager.SweepRetention(ctx)
		if err == nil && len(purged) > 0 {
			e.log.WithField("purged", len(purged)).Info("retention sweep finished")
		}
		return err
	}})
	s.Add(scheduler.Job{Name: JobReembed, Interval: lc.ReembedInterval, Run: func(ctx context.Context) error {
		_, err := e.manager.ReembedMissing(ctx)
		return err
	}})
	s.Add(scheduler.Job{Name: JobVerify, Interval: lc.VerifyInterval, Run: func(ctx context.Context) error {
		_, err := e.Ensure(ctx)
		return err
	}})
	s.Add(scheduler.Job{Name: JobTokens, Interval: lc.RetentionSweepInterval, Run: func(ctx context.Context) error {
		if _, err := e.tokens.CleanExpiredTokens(ctx); err != nil {
			return err
		}
		_, err := e.locker.CleanupExpired(ctx)
		return err
	}})
	if e.cfg.Backup.Enabled {
		s.Add(scheduler.Job{Name: JobBackup, Interval: e.cfg.Backup.Interval, Run: func(ctx context.Context) error {
			_, err := e.runBackup(ctx)
			return err
		}})
	}
	return s
}

// Backup commits a snapshot to the backup repository under the backup
// lease. It runs whether or not periodic backups are enabled.
func (e *Engine) Backup(ctx context.Context) (*backup.Result, error) {
	var res *backup.Result
	err := e.locker.WithLease(ctx, "job:"+JobBackup, leaseHolder(), func(ctx context.Context) error {
		var err error
		res, err = e.runBackup(ctx)
		return err
	})
	return res, err
}

func (e *Engine) runBackup(ctx context.Context) (*backup.Result, error) {
	bc := e.cfg.Backup
	opts := backup.Options{Dir: bc.Dir, Remote: bc.Remote}
	if bc.PATEnv != "" {
		opts.PAT = os.Getenv(bc.PATEnv)
	}
	if bc.Seal {
		key, err := snapshot.KeyFromEnv(true)
		if err != nil {
			return nil, err
		}
		opts.Key = key
	}
	return backup.Run(ctx, e.store, opts, logging.For("backup"))
}

// Sweep purges expired tombstones under the retention lease
func (e *Engine) Sweep(ctx context.Context) error {
	return e.sched.RunOnce(ctx, JobRetention)
}

// StartMaintenance starts the periodic jobs and, when configured, the
// session log watcher
func (e *Engine) StartMaintenance(ctx context.Context) {
	e.sched.Start(ctx)

	if !e.cfg.SessionLog.Watch {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	if e.closed || e.stopWatch != nil {
		e.mu.Unlock()
		cancel()
		return
	}
	e.stopWatch, e.watchDone = cancel, done
	e.mu.Unlock()

	w := sessionlog.NewWatcher(e.Ingester(), 0)
	go func() {
		defer close(done)
		if err := w.Run(watchCtx); err != nil {
			e.log.WithError(err).Error("session log watcher stopped")
		}
	}()
}
