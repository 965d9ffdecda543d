package taskgroup

import "github.com/sourcegraph/conc/panics"

// task is one unit of pending work. A task belonging to a batch carries its
// index within the batch and a pointer to the shared batch bookkeeping.
type task struct {
	fn    func() error
	batch *batch
	index int

	done chan struct{}
	err  error
}

// run executes the task on the current goroutine, be it a pool worker or a
// joining caller. A panicking task is confined and recorded as an error, so
// the goroutine running it always survives to pull more work.
func (t *task) run() {
	if r := panics.Try(func() { t.err = t.fn() }); r != nil {
		t.err = r.AsError()
	}

	// With a batch error handler in place, a failure is routed to the
	// handler instead of failing the task's own result. A panic from the
	// handler itself lands back on the result.
	if t.err != nil && t.batch != nil && t.batch.onError != nil {
		err := t.err
		t.err = nil
		if r := panics.Try(func() { t.batch.onError(t.index, err) }); r != nil {
			t.err = r.AsError()
		}
	}

	t.complete()
}

// discard resolves a task that will never run, after ShutdownNow pulled it
// from the queue. The error is routed like any task failure so that no
// waiter or joiner is left hanging and nothing is silently dropped.
func (t *task) discard(err error) {
	if t.batch != nil && t.batch.onError != nil {
		t.batch.onError(t.index, err)
	} else {
		t.err = err
	}
	t.complete()
}

func (t *task) complete() {
	close(t.done)
	if t.batch != nil {
		t.batch.completed.Inc()
	}
}

// Handle is the completion future for a single task accepted by
// [Group.Submit]. It resolves exactly once, by the time Done's channel is
// closed.
type Handle struct {
	t *task
}

// Done returns a channel closed when the task has completed.
func (h *Handle) Done() <-chan struct{} {
	return h.t.done
}

// Wait blocks until the task has completed and returns its error, if any. A
// task discarded by [Group.ShutdownNow] resolves with [ErrRejected].
func (h *Handle) Wait() error {
	<-h.t.done
	return h.t.err
}
