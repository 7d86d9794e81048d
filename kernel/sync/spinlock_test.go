package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)

	// Substitute the yieldFn with runtime.Gosched to avoid starving the
	// lock holder while testing
	yieldFn = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
		counter    int
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	if !sl.Held() {
		t.Error("expected Held to return true while the lock is acquired")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			sl.Acquire()
			counter++
			sl.Release()
		}()
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()

	if counter != numWorkers {
		t.Fatalf("expected counter to be %d; got %d", numWorkers, counter)
	}

	if sl.Held() {
		t.Fatal("expected lock to be released")
	}
}

func TestSpinlockReleaseUnheld(t *testing.T) {
	var sl Spinlock

	sl.Release()
	if !sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed on a free lock")
	}
}

func TestSpinlockAcquireExclusive(t *testing.T) {
	var sl Spinlock

	sl.AcquireExclusive()
	if !sl.Held() {
		t.Fatal("expected Held to return true after AcquireExclusive")
	}

	func() {
		defer func() {
			if err := recover(); err != ErrReentered {
				t.Errorf("expected re-entering the lock to panic with ErrReentered; got %v", err)
			}
		}()

		sl.AcquireExclusive()
	}()

	if !sl.Held() {
		t.Fatal("expected the failed acquisition to leave the lock held")
	}

	sl.Release()
	sl.AcquireExclusive()
	sl.Release()
}
