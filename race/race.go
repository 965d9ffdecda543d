// Package race runs several candidate computations on a caller-supplied
// pool and commits to whichever finishes first, cancelling the rest. A
// staged variant gives a designated subset of candidates a scheduling head
// start before the remainder are launched.
package race

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Executor dispatches a function for asynchronous execution. It is the
// boundary to the caller-owned pool backing each race; the pool outlives
// any individual race and is never created here. *taskgroup.Group satisfies
// Executor, as does any equivalent worker pool.
type Executor interface {
	Execute(fn func()) error
}

// Candidate is one computation entered into a race. The context it receives
// is cancelled as soon as another candidate wins, with [ErrLost] as the
// cause; candidates are expected to honor it promptly, since a race only
// best-effort-interrupts computations already past their last cancellation
// point.
type Candidate[T any] func(context.Context) (T, error)

// ErrLost is the cancellation cause observed by losing candidates.
var ErrLost = errors.New("race: another candidate won")

// Run submits every candidate to exec and returns the value of the first to
// complete without error. The winner claims a single slot atomically; every
// other candidate is then cancelled if running, and never invoked at all if
// it has not yet started on the pool.
//
// If every candidate fails, Run returns the candidates' errors joined via
// [errors.Join]. Cancelled and never-started candidates are not failures
// and contribute nothing to that aggregate. If ctx is cancelled before a
// winner emerges, Run returns ctx.Err().
//
// With no candidates, Run returns the zero value and nil. Run panics if any
// candidate is nil.
func Run[T any](ctx context.Context, exec Executor, candidates ...Candidate[T]) (T, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, nil
	}

	s := newState[T](ctx, len(candidates))
	defer s.cancel(nil)

	if err := s.launch(exec, candidates); err != nil {
		return zero, err
	}
	return s.collect(len(candidates))
}

// RunHeadStart races the head candidates immediately and holds the rest
// back for delay. A winner among the head candidates inside that window
// means the rest are never submitted to the pool at all, not merely
// cancelled after starting. Once the delay elapses, the rest are launched
// and the race proceeds among every candidate still in flight, exactly as
// in [Run]. If every head candidate fails before the delay elapses, the
// rest launch immediately rather than waiting out the timer.
func RunHeadStart[T any](ctx context.Context, exec Executor, delay time.Duration, head, rest []Candidate[T]) (T, error) {
	var zero T
	if len(head) == 0 {
		return Run(ctx, exec, rest...)
	}

	s := newState[T](ctx, len(head)+len(rest))
	defer s.cancel(nil)

	if err := s.launch(exec, head); err != nil {
		return zero, err
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	var (
		errs     []error
		launched = len(head)
		timerC   = timer.C
	)
	launchRest := func() error {
		timerC = nil
		timer.Stop()
		if err := s.launch(exec, rest); err != nil {
			return err
		}
		launched += len(rest)
		return nil
	}

	for finished := 0; finished < launched; {
		select {
		case o := <-s.outcomes:
			finished++
			switch {
			case o.winner:
				return o.value, nil
			case o.discarded:
			case o.err != nil:
				errs = append(errs, o.err)
			}
			if finished == launched && timerC != nil {
				if err := launchRest(); err != nil {
					return zero, err
				}
			}
		case <-timerC:
			if err := launchRest(); err != nil {
				return zero, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, errors.Join(errs...)
}

// outcome is what one launched candidate reports back: a claimed win, a
// failure, or a discard (cancelled before starting, or finished after the
// winner was already decided).
type outcome[T any] struct {
	value     T
	err       error
	winner    bool
	discarded bool
}

// state is the in-flight bookkeeping for a single race: the shared
// cancellable context, the atomically claimed winner slot, and the outcome
// channel, buffered for every candidate the race could launch so that no
// candidate goroutine ever blocks publishing, even after Run has returned.
type state[T any] struct {
	parent   context.Context
	ctx      context.Context
	cancel   context.CancelCauseFunc
	won      atomic.Bool
	outcomes chan outcome[T]
}

func newState[T any](parent context.Context, capacity int) *state[T] {
	ctx, cancel := context.WithCancelCause(parent)
	return &state[T]{
		parent:   parent,
		ctx:      ctx,
		cancel:   cancel,
		outcomes: make(chan outcome[T], capacity),
	}
}

func (s *state[T]) launch(exec Executor, candidates []Candidate[T]) error {
	for i, fn := range candidates {
		if fn == nil {
			panic(fmt.Sprintf("race: candidate[%d] must not be nil", i))
		}
		if err := exec.Execute(func() { s.run(fn) }); err != nil {
			return fmt.Errorf("race: submitting candidate: %w", err)
		}
	}
	return nil
}

// run executes one candidate on the pool, unless the race is already
// decided: a candidate that has not started by the time the winner slot is
// claimed never runs, so its side effects never occur.
func (s *state[T]) run(fn Candidate[T]) {
	if s.won.Load() || s.ctx.Err() != nil {
		s.outcomes <- outcome[T]{discarded: true}
		return
	}

	value, err := fn(s.ctx)
	switch {
	case err == nil && s.won.CompareAndSwap(false, true):
		// Claim, then publish. The claim also cancels every other
		// candidate; late claims fall through below and are discarded.
		s.cancel(ErrLost)
		s.outcomes <- outcome[T]{value: value, winner: true}
	case s.won.Load():
		s.outcomes <- outcome[T]{discarded: true}
	default:
		s.outcomes <- outcome[T]{err: err}
	}
}

// collect reads one outcome per launched candidate, returning as soon as
// the winner's arrives. Candidates still publishing after that land in the
// channel's buffer and are released with the state.
func (s *state[T]) collect(launched int) (T, error) {
	var zero T
	var errs []error
	for range launched {
		o := <-s.outcomes
		switch {
		case o.winner:
			return o.value, nil
		case o.discarded:
		case o.err != nil:
			errs = append(errs, o.err)
		}
	}

	if err := s.parent.Err(); err != nil {
		return zero, err
	}
	return zero, errors.Join(errs...)
}
