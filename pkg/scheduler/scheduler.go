// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flandriendev/briven/internal/locking"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/sirupsen/logrus"
)

// ErrUnknownJob is returned by RunOnce for names that were never added
var ErrUnknownJob = errors.New("unknown job")

// Job is a periodic maintenance task
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on their intervals. Each run holds a database lease
// named after the job, so processes sharing a database never run the same
// job at once.
type Scheduler struct {
	locker *locking.Locker
	holder string
	log    *logrus.Entry

	mu      sync.Mutex
	jobs    map[string]Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a new scheduler. A nil locker runs jobs without a lease.
func NewScheduler(locker *locking.Locker, holder string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		locker: locker,
		holder: holder,
		log:    logging.OrNop(log),
		jobs:   make(map[string]Job),
	}
}

// Add registers a job. Jobs without a positive interval only run through RunOnce.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
}

// Jobs returns the registered job names, sorted
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Stop stops the scheduler and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.run(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).WithField("job", job.Name).Warn("scheduled job failed")
			}
		}
	}
}

// RunOnce runs a job immediately under its lease
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	var err error
	if s.locker == nil {
		err = job.Run(ctx)
	} else {
		err = s.locker.WithLease(ctx, "job:"+job.Name, s.holder, job.Run)
	}

	var leaseErr *locking.LeaseError
	if errors.As(err, &leaseErr) {
		s.log.WithFields(logrus.Fields{"job": job.Name, "holder": leaseErr.Holder}).Debug("job held by another process, skipping")
		return nil
	}
	if err == nil {
		s.log.WithFields(logrus.Fields{"job": job.Name, "duration": time.Since(start)}).Debug("job completed")
	}
	return err
}
