package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock guards one backend instance. Every Job against the instance, query or
// mutation, holds it for its whole run.
type Lock struct {
	sem *semaphore.Weighted
}

// NewLock creates an unlocked Lock.
func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the lock. Waiting for the lock stops when ctx is
// done; the lock is released on every return path of fn, panics included.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}

// TryDo runs fn only if the lock is free, reporting whether it ran.
func (l *Lock) TryDo(fn func() error) (bool, error) {
	if !l.sem.TryAcquire(1) {
		return false, nil
	}
	defer l.sem.Release(1)
	return true, fn()
}
