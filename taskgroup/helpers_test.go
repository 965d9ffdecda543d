package taskgroup_test

import (
	"runtime"
	"testing"
	"time"
)

const timeout = 2 * time.Second

// promise runs fn in a new goroutine and returns a channel closed when it
// returns.
func promise(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() { defer close(done); fn() }()
	return done
}

// assertReceiveCount fails the test if it cannot receive a given number of
// values from a channel within a reasonable amount of time. This is used to
// ensure that one or more goroutines have passed a specific point in their
// execution.
func assertReceiveCount[T any](t *testing.T, count int, ch <-chan T) {
	t.Helper()
	bail := time.After(timeout)
	for range count {
		select {
		case <-ch:
		case <-bail:
			t.Fatalf("did not finish receiving within %v", timeout)
		}
	}
}

// assertUnblocks fails the test if fn does not return within a reasonable
// amount of time.
func assertUnblocks(t *testing.T, fn func()) {
	t.Helper()
	select {
	case <-promise(fn):
	case <-time.After(timeout):
		t.Fatalf("call did not return within %v", timeout)
	}
}

// assertStillBlocked fails the test if done closes even after the runtime
// has been pushed to make progress on every other goroutine. Best-effort,
// like any negative check on a blocked goroutine.
func assertStillBlocked(t *testing.T, done <-chan struct{}) {
	t.Helper()
	forceRuntimeProgress()
	select {
	case <-done:
		t.Fatal("call returned when it should have remained blocked")
	default:
	}
}

// forceRuntimeProgress makes a best-effort attempt to force the Go runtime
// to make progress on all other goroutines in the system, ideally to the
// point at which they will next block if not preempted.
func forceRuntimeProgress() {
	gomaxprocs := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(gomaxprocs)
	n := runtime.NumGoroutine()
	for range n {
		runtime.Gosched()
	}
}
