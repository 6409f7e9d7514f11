package scheduler

import (
	"context"
	"sync"
)

// lanes keeps a FIFO of jobs per target. A lane with pending jobs owns exactly
// one pool job that drains it, so jobs for the same target run in order on
// one worker while other targets use the rest of the pool.
type lanes struct {
	pool *pool

	mu      sync.Mutex
	pending map[int][]func()
}

func newLanes(p *pool) *lanes {
	return &lanes{pool: p, pending: make(map[int][]func())}
}

// push appends job to the target's lane, starting a drainer when the lane was
// idle. It returns false when the job was not accepted.
func (l *lanes) push(ctx context.Context, targetID int, job func()) bool {
	l.mu.Lock()
	q, draining := l.pending[targetID]
	l.pending[targetID] = append(q, job)
	l.mu.Unlock()
	if draining {
		return true
	}

	if l.pool.submit(ctx, func() { l.drain(targetID) }) {
		return true
	}
	// No drainer owns the lane, so job is still at its head. Jobs pushed
	// meanwhile were accepted and still need a drainer.
	l.mu.Lock()
	q = l.pending[targetID]
	q[0] = nil
	q = q[1:]
	if len(q) == 0 {
		delete(l.pending, targetID)
	} else {
		l.pending[targetID] = q
		go l.drain(targetID)
	}
	l.mu.Unlock()
	return false
}

func (l *lanes) drain(targetID int) {
	for {
		l.mu.Lock()
		q := l.pending[targetID]
		if len(q) == 0 {
			delete(l.pending, targetID)
			l.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		l.pending[targetID] = q[1:]
		l.mu.Unlock()
		job()
	}
}
