// Package taskgroup provides a fixed-size worker pool whose callers can
// join in on the work. Alongside the usual submit/execute/shutdown executor
// surface, [Group.Join] submits a batch of tasks and turns the calling
// goroutine into an extra worker until that batch completes, so a batch
// makes progress even when every pool worker is occupied with unrelated
// long-running work.
package taskgroup

import (
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/samber/lo"

	"go.joinery.dev/joinery/latch"
)

// ErrRejected is returned when work is submitted to a Group that has been
// shut down. Rejection is always signaled to the submitter; work is never
// silently dropped.
var ErrRejected = errors.New("taskgroup: group is shut down")

// Group is a pool of worker goroutines pulling from a shared pending-task
// queue. Create one with [New]; shut it down with [Group.Shutdown] or
// [Group.ShutdownNow].
type Group struct {
	workers int

	pending   deque.Deque[*task]
	pendingMu sync.Mutex
	shutdown  bool // guarded by pendingMu

	// ready carries wake-up tokens for idle workers, buffered to the worker
	// count: a full buffer is already enough to activate every worker, so
	// senders never need to block. done is closed once at shutdown so a
	// worker blocked without a token can still notice.
	ready chan struct{}
	done  chan struct{}

	shutdownOnce sync.Once

	// exited counts worker goroutines that have finished draining and
	// returned. Termination queries wait on it.
	exited *latch.Latch
}

// Option configures a [Group].
type Option func(*config)

type config struct {
	queueCap int
}

// WithQueueCapacity pre-sizes the pending-task queue to hold n entries
// before growing. It affects allocation only, never admission: the queue is
// unbounded and submissions do not block on capacity.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueCap = n
		}
	}
}

// New creates a Group with the given number of worker goroutines. The
// workers start immediately and live until the group is shut down.
// New panics if workers <= 0.
func New(workers int, opts ...Option) *Group {
	if workers <= 0 {
		panic("taskgroup: New requires workers > 0")
	}

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Group{
		workers: workers,
		ready:   make(chan struct{}, workers),
		done:    make(chan struct{}),
		exited:  latch.New(),
	}
	if cfg.queueCap > 0 {
		g.pending.SetBaseCap(cfg.queueCap)
	}

	for range workers {
		go g.worker()
	}
	return g
}

// Execute enqueues fn for asynchronous execution, with no way to observe
// its completion. It returns [ErrRejected] if the group has shut down.
func (g *Group) Execute(fn func()) error {
	_, err := g.Submit(func() error {
		fn()
		return nil
	})
	return err
}

// Submit enqueues fn and returns a [Handle] resolved with fn's outcome once
// it has run. It returns [ErrRejected] if the group has shut down.
func (g *Group) Submit(fn func() error) (*Handle, error) {
	if fn == nil {
		panic("taskgroup: Submit requires a non-nil task")
	}
	t := &task{fn: fn, done: make(chan struct{})}
	if err := g.enqueue(t); err != nil {
		return nil, err
	}
	return &Handle{t: t}, nil
}

// Shutdown stops the group from accepting new work. Work already accepted,
// whether in flight or still queued, runs to completion. Shutdown is
// idempotent and returns without waiting; pair it with
// [Group.AwaitTermination] to observe completion.
func (g *Group) Shutdown() {
	g.shutdownOnce.Do(func() {
		g.pendingMu.Lock()
		g.shutdown = true
		g.pendingMu.Unlock()
		close(g.done)
	})
}

// ShutdownNow stops the group from accepting new work and discards every
// queued task that has not started. Discarded tasks never run: their
// handles resolve with [ErrRejected] (or their batch error handler is
// invoked with it), and their original functions are returned so the caller
// can run them elsewhere. Tasks already in flight run to completion.
func (g *Group) ShutdownNow() []func() error {
	g.Shutdown()

	var drained []*task
	g.pendingMu.Lock()
	for g.pending.Len() > 0 {
		drained = append(drained, g.pending.PopFront())
	}
	g.pendingMu.Unlock()

	for _, t := range drained {
		t.discard(ErrRejected)
	}
	return lo.Map(drained, func(t *task, _ int) func() error { return t.fn })
}

// IsShutdown reports whether the group has stopped accepting work.
func (g *Group) IsShutdown() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// IsTerminated reports whether the group has shut down and every worker has
// finished draining and exited.
func (g *Group) IsTerminated() bool {
	return g.IsShutdown() && g.exited.Count() >= uint64(g.workers)
}

// AwaitTermination blocks until every worker has exited following a
// shutdown, or until d elapses. It reports whether termination was reached;
// false means the timeout elapsed first.
func (g *Group) AwaitTermination(d time.Duration) bool {
	return g.exited.WaitTimeout(uint64(g.workers), d)
}

// enqueue admits tasks to the pending queue in order, without interleaving
// entries from any other submission, then wakes workers. It returns
// ErrRejected without admitting anything if the group has shut down.
func (g *Group) enqueue(tasks ...*task) error {
	g.pendingMu.Lock()
	if g.shutdown {
		g.pendingMu.Unlock()
		return ErrRejected
	}
	for _, t := range tasks {
		g.pending.PushBack(t)
	}
	g.pendingMu.Unlock()

	for range tasks {
		select {
		case g.ready <- struct{}{}:
		default:
			return nil
		}
	}
	return nil
}

// take removes one task from the front of the pending queue. The mutex
// makes removal at-most-once per entry: no two goroutines, worker or
// joining caller, ever obtain the same task.
func (g *Group) take() (*task, bool) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	if g.pending.Len() == 0 {
		return nil, false
	}
	return g.pending.PopFront(), true
}

// worker runs the take-and-run loop for one pool goroutine. It blocks on a
// readiness token whenever the queue is empty, and after shutdown makes a
// final drain pass so no accepted task is left behind.
func (g *Group) worker() {
	defer g.exited.Inc()
	for {
		if t, ok := g.take(); ok {
			t.run()
			continue
		}
		select {
		case <-g.ready:
		case <-g.done:
			for {
				t, ok := g.take()
				if !ok {
					return
				}
				t.run()
			}
		}
	}
}
