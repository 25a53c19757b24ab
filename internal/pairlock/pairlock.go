// Package pairlock serialises work on one key at a time, either within a
// process or across processes sharing a Redis instance. The orchestrator uses
// it to keep concurrent interactions on the same bot pair from interleaving
// their read-modify-write cycles.
package pairlock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned release func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are dropped once nobody holds
// or waits on them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{entries: map[string]*localEntry{}}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
