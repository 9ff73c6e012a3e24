// Package lock provides an in-process, per-key mutual exclusion table used to
// serialize writers to the same OCFL object or content path. It is built on
// golang.org/x/sync/semaphore rather than a dedicated file-locking library:
// nothing in this module's storage backends needs an OS-level advisory lock
// (local, S3, and gocloud.dev buckets all arbitrate through the object's own
// write path), and x/sync is already a dependency for errgroup-based
// concurrency elsewhere in the module.
package lock

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned by Table.Do when a key's lock isn't acquired before
// ctx is done.
var ErrTimeout = errors.New("timed out waiting for lock")

// Table is a concurrency-safe set of named, mutually exclusive locks. The
// zero value is ready to use.
type Table struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func (t *Table) semFor(key string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sems == nil {
		t.sems = make(map[string]*semaphore.Weighted)
	}
	sem, ok := t.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		t.sems[key] = sem
	}
	return sem
}

// Do acquires the lock for key, runs fn, and releases the lock before
// returning. If ctx is done before the lock is acquired, Do returns
// ErrTimeout without running fn; callers that want a bounded wait should pass
// a ctx with a deadline or cancellation via context.WithTimeout.
func (t *Table) Do(ctx context.Context, key string, fn func() error) error {
	sem := t.semFor(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return ErrTimeout
	}
	defer sem.Release(1)
	return fn()
}
