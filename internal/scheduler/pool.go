package scheduler

import (
	"context"
	"sync"
)

// pool runs dispatch jobs on a fixed set of workers. Stop drains the queue:
// every job accepted by submit runs before Stop returns.
type pool struct {
	workers int
	jobs    chan func()
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

func newPool(workers, queueFactor int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueFactor <= 0 {
		queueFactor = 16
	}
	return &pool{
		workers: workers,
		jobs:    make(chan func(), workers*queueFactor),
	}
}

func (p *pool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for range p.workers {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// submit queues job, blocking while the queue is full. It returns false once
// the pool is stopped or ctx is done.
func (p *pool) submit(ctx context.Context, job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *pool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// queued is the number of jobs waiting for a worker.
func (p *pool) queued() int {
	return len(p.jobs)
}
