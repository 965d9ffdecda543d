// Package latch provides a monotonic counter that any number of goroutines
// can independently wait on, each from a threshold of its own choosing.
package latch

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Latch is a thread-safe counter that only counts up. Goroutines wait for
// the count to reach arbitrary thresholds; each waiter is released exactly
// once, as soon as the count first reaches its threshold, without affecting
// any other waiter.
//
// A Latch has no teardown. Callers blocked on a threshold the count never
// reaches stay blocked, so bounded waits should go through [Latch.WaitContext]
// or [Latch.WaitTimeout].
type Latch struct {
	mu      sync.Mutex
	count   uint64
	waiters mapset.Set[*waiter]
}

// waiter pairs a threshold with a channel closed once the count reaches it.
type waiter struct {
	threshold uint64
	release   chan struct{}
}

// New creates a Latch with a count of zero and no waiters.
func New() *Latch {
	return &Latch{waiters: mapset.NewThreadUnsafeSet[*waiter]()}
}

// Inc increments the count by one and releases every waiter whose threshold
// the new count satisfies. It is safe to call from any number of goroutines
// at once; the count observes every call.
func (l *Latch) Inc() {
	var satisfied []*waiter

	l.mu.Lock()
	l.count++
	l.waiters.Each(func(w *waiter) bool {
		if w.threshold <= l.count {
			satisfied = append(satisfied, w)
		}
		return false
	})
	for _, w := range satisfied {
		l.waiters.Remove(w)
	}
	l.mu.Unlock()

	for _, w := range satisfied {
		close(w.release)
	}
}

// Count returns a snapshot of the current count. It never blocks, and makes
// no claim about ordering relative to concurrent Inc calls.
func (l *Latch) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Wait blocks the calling goroutine until the count reaches threshold. It
// returns immediately if the threshold is already satisfied.
func (l *Latch) Wait(threshold uint64) {
	if w := l.register(threshold); w != nil {
		<-w.release
	}
}

// WaitContext blocks until the count reaches threshold or ctx is done. It
// returns nil when the threshold is satisfied and ctx.Err() otherwise. When
// satisfaction and cancellation race, satisfaction wins.
func (l *Latch) WaitContext(ctx context.Context, threshold uint64) error {
	w := l.register(threshold)
	if w == nil {
		return nil
	}

	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	stillWaiting := l.waiters.Contains(w)
	if stillWaiting {
		l.waiters.Remove(w)
	}
	l.mu.Unlock()

	if !stillWaiting {
		// An Inc released this waiter concurrently with cancellation.
		return nil
	}
	return ctx.Err()
}

// WaitTimeout blocks until the count reaches threshold or d elapses. It
// reports whether the threshold was satisfied; false means the timeout
// elapsed first. Timeouts are a return value by contract, never an error or
// a panic.
func (l *Latch) WaitTimeout(threshold uint64, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.WaitContext(ctx, threshold) == nil
}

// register enrolls a waiter for threshold, or returns nil if the count
// already satisfies it. The check and the enrollment happen under a single
// mutex hold, so a concurrent Inc cannot slip between them and leave the
// waiter stranded.
func (l *Latch) register(threshold uint64) *waiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count >= threshold {
		return nil
	}
	w := &waiter{threshold: threshold, release: make(chan struct{})}
	l.waiters.Add(w)
	return w
}
