package alarms

import (
	"context"
	"fmt"
)

// LockMode selects how operations wait for the global lock
type LockMode int

const (
	// Blocking waits until the lock is free or the context is done
	Blocking LockMode = iota
	// NonBlocking fails immediately with ErrLockUnavailable
	NonBlocking
)

// Lock is the process-wide, non-reentrant mutual exclusion shared by the
// scheduler and every collaborator mutating rules, watermarks or alarms.
// Unlike sync.Mutex it supports context-bounded and immediate acquisition.
type Lock struct {
	ch chan struct{}
}

// NewLock creates an unlocked Lock
func NewLock() *Lock {
	return &Lock{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockUnavailable, ctx.Err())
	}
}

// TryAcquire takes the lock only if it is free.
func (l *Lock) TryAcquire() error {
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
		return ErrLockUnavailable
	}
}

// AcquireMode dispatches on mode
func (l *Lock) AcquireMode(ctx context.Context, mode LockMode) error {
	if mode == NonBlocking {
		return l.TryAcquire()
	}
	return l.Acquire(ctx)
}

// Release frees the lock. Releasing an unlocked Lock panics.
func (l *Lock) Release() {
	select {
	case <-l.ch:
	default:
		panic("alarms: release of unlocked Lock")
	}
}
