package executor

import (
	"context"
	"sync"
)

// lockArena hands out one mutex per target id. Entries are reference counted
// and removed once no caller holds or waits on them.
type lockArena struct {
	mu    sync.Mutex
	locks map[int]*targetLock
}

type targetLock struct {
	sem  chan struct{}
	refs int
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[int]*targetLock)}
}

// Acquire blocks until the target's lock is held or ctx is done. A done ctx
// never acquires. The returned
// release func is safe to call more than once.
func (a *lockArena) Acquire(ctx context.Context, id int) (func(), error) {
	// A free lock and a done ctx would otherwise race in the select below.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	l, ok := a.locks[id]
	if !ok {
		l = &targetLock{sem: make(chan struct{}, 1)}
		a.locks[id] = l
	}
	l.refs++
	a.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		a.put(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			a.put(id, l)
		})
	}, nil
}

func (a *lockArena) put(id int, l *targetLock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, id)
	}
}

// Held reports whether some caller currently holds the target's lock.
func (a *lockArena) Held(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[id]
	return ok && len(l.sem) == 1
}

// Size is the number of live entries in the arena.
func (a *lockArena) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
