// Package sync provides the spinlock that guards the init server's shared
// memory management tables.
package sync

import (
	"runtime"
	"sync/atomic"

	"silverbox/kernel"
)

// attemptsBeforeYielding is the number of failed acquisition attempts after
// which Acquire hands the CPU back via yieldFn.
const attemptsBeforeYielding = 64

var (
	// ErrReentered is raised by AcquireExclusive when the lock is already
	// held.
	ErrReentered = &kernel.Error{Module: "sync", Message: "lock re-entered while held"}

	// yieldFn is invoked while spinning on a contended lock.
	yieldFn = runtime.Gosched
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); ; attempt++ {
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}

		if attempt%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}
}

// AcquireExclusive acquires a lock guarding state that is only ever touched
// by a single task. Finding such a lock held means that a nested handler (for
// example a page fault taken while the holder was mid-update) re-entered it;
// AcquireExclusive panics with ErrReentered instead of spinning forever.
func (l *Spinlock) AcquireExclusive() {
	if !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		panic(ErrReentered)
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Held reports whether the lock is currently acquired.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(&l.state) != 0
}
