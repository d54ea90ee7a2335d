package wsfe

import (
	"context"
	"sync"
)

// tupleLocks serializes work per sales point tuple. Entries are dropped once
// no caller holds or waits on them.
type tupleLocks struct {
	mu    sync.Mutex
	locks map[string]*tupleLock
}

type tupleLock struct {
	sem  chan struct{}
	refs int
}

func newTupleLocks() *tupleLocks {
	return &tupleLocks{locks: make(map[string]*tupleLock)}
}

// acquire blocks until key is free or ctx is done. The returned func releases
// the lock.
func (t *tupleLocks) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &tupleLock{sem: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		t.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.sem
		t.release(key, l)
	}, nil
}

func (t *tupleLocks) release(key string, l *tupleLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *tupleLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
