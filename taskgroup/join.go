package taskgroup

import (
	"errors"

	"github.com/samber/lo"

	"go.joinery.dev/joinery/latch"
)

// ErrorHandler receives the index of a failing task within its batch along
// with the error it produced. A handled failure does not fail the task's
// own result and never disturbs its siblings.
type ErrorHandler func(index int, err error)

// batch is the bookkeeping shared by the tasks of one Join call: a
// completion latch incremented exactly once per task, however the task ends
// up resolved, and the optional error handler.
type batch struct {
	completed *latch.Latch
	onError   ErrorHandler
}

// Join enqueues fns as a batch and blocks until every one of them has
// completed, with the calling goroutine helping to drain pending work
// rather than sleeping. Each task runs exactly once, on either a pool
// worker or the caller; the relative order in which the batch's tasks
// execute is unspecified.
//
// Per-task failures are collected and returned joined via [errors.Join]; a
// failure never aborts the rest of the batch. If the group has shut down,
// Join returns [ErrRejected] without running anything.
func (g *Group) Join(fns ...func() error) error {
	tasks, err := g.join(nil, fns)
	if err != nil {
		return err
	}
	errs := make([]error, len(tasks))
	for i, t := range tasks {
		errs[i] = t.err
	}
	return errors.Join(errs...)
}

// JoinHandled behaves like [Group.Join], but routes each task failure to
// onError instead of collecting it. The handler is invoked exactly once per
// failing task; tasks that succeed never reach it. JoinHandled returns
// non-nil only for a rejected submission.
//
// JoinHandled panics if onError is nil; use [Group.Join] to collect errors
// instead.
func (g *Group) JoinHandled(onError ErrorHandler, fns ...func() error) error {
	if onError == nil {
		panic("taskgroup: JoinHandled requires a non-nil handler")
	}
	_, err := g.join(onError, fns)
	return err
}

// join admits fns as one batch, then runs the same take-and-run loop as a
// pool worker on the calling goroutine until the batch's completion count
// reaches the batch size. The caller drains whatever is at the front of the
// shared queue, its own batch or not, which is what guarantees the batch
// progress even under a fully saturated pool. When the queue goes empty
// while the batch is still in flight on other workers, the caller waits on
// the completion latch, never on queue readiness.
func (g *Group) join(onError ErrorHandler, fns []func() error) ([]*task, error) {
	if len(fns) == 0 {
		return nil, nil
	}

	b := &batch{completed: latch.New(), onError: onError}
	tasks := make([]*task, len(fns))
	for i, fn := range fns {
		if fn == nil {
			panic("taskgroup: Join requires non-nil tasks")
		}
		tasks[i] = &task{fn: fn, batch: b, index: i, done: make(chan struct{})}
	}
	if err := g.enqueue(tasks...); err != nil {
		return nil, err
	}

	size := uint64(len(tasks))
	for b.completed.Count() < size {
		t, ok := g.take()
		if !ok {
			b.completed.Wait(size)
			break
		}
		t.run()
	}
	return tasks, nil
}

// Result holds the outcome of one value-producing task in a batch.
type Result[T any] struct {
	Value T
	Err   error
}

// Collect is the value-producing form of [Group.Join]: it runs fns as a
// joined batch on g and returns one resolved [Result] per input, in input
// order, all settled by the time Collect returns. A failing task fails only
// its own Result. Collect returns [ErrRejected] and no results if the group
// has shut down.
//
// Collect is a function rather than a method because Go methods cannot
// introduce type parameters.
func Collect[T any](g *Group, fns ...func() (T, error)) ([]Result[T], error) {
	results := make([]Result[T], len(fns))
	wrapped := lo.Map(fns, func(fn func() (T, error), i int) func() error {
		return func() error {
			v, err := fn()
			results[i] = Result[T]{Value: v, Err: err}
			return err
		}
	})

	// The handler writes straight into the result slot, which also covers
	// outcomes the wrapped function cannot record itself: a panicking task,
	// or one discarded by ShutdownNow.
	err := g.JoinHandled(func(i int, err error) {
		results[i].Err = err
	}, wrapped...)
	if err != nil {
		return nil, err
	}
	return results, nil
}
