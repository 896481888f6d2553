// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lifecycle

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type job struct {
	name string
	run  func(ctx context.Context)
}

// pool is a fixed set of background workers fed by a bounded queue.
// Submit never blocks; a full queue rejects the job.
type pool struct {
	jobs    chan job
	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logrus.Entry

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{} // closed whenever pending is zero
}

func newPool(workers, queueSize int, log *logrus.Entry) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	p := &pool{
		jobs:   make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		idle:   idle,
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.work()
	}
	return p
}

func (p *pool) work() {
	defer p.workers.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *pool) run(j job) {
	defer p.done()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("job", j.name).Errorf("background job panicked: %v", r)
		}
	}()
	j.run(p.ctx)
}

func (p *pool) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

// submit queues fn and reports whether it was accepted
func (p *pool) submit(name string, fn func(ctx context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- job{name: name, run: fn}:
		if p.pending == 0 {
			p.idle = make(chan struct{})
		}
		p.pending++
		return true
	default:
		return false
	}
}

// flush waits until every accepted job has finished
func (p *pool) flush(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queued returns the number of accepted jobs not yet finished
func (p *pool) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// close stops intake and drains the queue. Jobs still running when ctx
// expires see their context cancelled.
func (p *pool) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
