// Package locker serializes mutations per trade. Every code path that
// mutates a trade acquires its lock first, so status checks and writes
// happen atomically with respect to other writers.
package locker

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker is a keyed mutex map. Entries are created on demand and removed
// once the last holder releases, so the map stays bounded by the number of
// trades currently being mutated.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held and returns the release
// function. The lock is not reentrant; callers must not nest acquisitions
// for the same key.
func (l *Locker) Acquire(key string) (release func()) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports the number of keys currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
