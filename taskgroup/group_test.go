package taskgroup_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.joinery.dev/joinery/taskgroup"
)

func TestSubmitResolvesHandle(t *testing.T) {
	g := taskgroup.New(2)
	defer shutdownAndWait(t, g)

	h, err := g.Submit(func() error { return nil })
	require.NoError(t, err)
	assertUnblocks(t, func() { assert.NoError(t, h.Wait()) })
}

func TestSubmitRecordsTaskError(t *testing.T) {
	g := taskgroup.New(1)
	defer shutdownAndWait(t, g)

	sentinel := errors.New("task failed")
	h, err := g.Submit(func() error { return sentinel })
	require.NoError(t, err)
	assertUnblocks(t, func() { assert.ErrorIs(t, h.Wait(), sentinel) })
}

func TestWorkerSurvivesPanickingTask(t *testing.T) {
	g := taskgroup.New(1)
	defer shutdownAndWait(t, g)

	h, err := g.Submit(func() error { panic("boom") })
	require.NoError(t, err)

	var panicErr error
	assertUnblocks(t, func() { panicErr = h.Wait() })
	require.Error(t, panicErr)
	assert.Contains(t, panicErr.Error(), "boom")

	// The single worker must have survived the panic and still pull work.
	var ran atomic.Bool
	h2, err := g.Submit(func() error { ran.Store(true); return nil })
	require.NoError(t, err)
	assertUnblocks(t, func() { assert.NoError(t, h2.Wait()) })
	assert.True(t, ran.Load())
}

func TestExecuteRunsTask(t *testing.T) {
	g := taskgroup.New(2)
	defer shutdownAndWait(t, g)

	ran := make(chan struct{}, 1)
	require.NoError(t, g.Execute(func() { ran <- struct{}{} }))
	assertReceiveCount(t, 1, ran)
}

func TestRejectionAfterShutdown(t *testing.T) {
	g := taskgroup.New(1)
	g.Shutdown()

	assert.ErrorIs(t, g.Execute(func() {}), taskgroup.ErrRejected)

	_, err := g.Submit(func() error { return nil })
	assert.ErrorIs(t, err, taskgroup.ErrRejected)

	assert.ErrorIs(t, g.Join(func() error { return nil }), taskgroup.ErrRejected)

	_, err = taskgroup.Collect(g, func() (int, error) { return 0, nil })
	assert.ErrorIs(t, err, taskgroup.ErrRejected)
}

func TestShutdownIsIdempotent(t *testing.T) {
	g := taskgroup.New(2)

	g.Shutdown()
	assert.True(t, g.IsShutdown())
	g.Shutdown()
	assert.True(t, g.IsShutdown())

	assert.True(t, g.AwaitTermination(timeout))
	assert.True(t, g.IsTerminated())
}

func TestShutdownDrainsAcceptedWork(t *testing.T) {
	g := taskgroup.New(1)

	// Occupy the single worker so that further submissions stay queued.
	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	require.NoError(t, g.Execute(func() {
		started <- struct{}{}
		<-unblock
	}))
	assertReceiveCount(t, 1, started)

	var ran atomic.Int32
	handles := make([]*taskgroup.Handle, 3)
	for i := range handles {
		h, err := g.Submit(func() error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
		handles[i] = h
	}

	// A graceful shutdown lets the queued tasks finish.
	g.Shutdown()
	close(unblock)
	require.True(t, g.AwaitTermination(timeout))

	for _, h := range handles {
		assertUnblocks(t, func() { assert.NoError(t, h.Wait()) })
	}
	assert.Equal(t, int32(3), ran.Load())
}

func TestShutdownNowDiscardsQueuedWork(t *testing.T) {
	g := taskgroup.New(1)

	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	require.NoError(t, g.Execute(func() {
		started <- struct{}{}
		<-unblock
	}))
	assertReceiveCount(t, 1, started)

	var ran atomic.Int32
	handles := make([]*taskgroup.Handle, 3)
	for i := range handles {
		h, err := g.Submit(func() error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
		handles[i] = h
	}

	discarded := g.ShutdownNow()
	assert.Len(t, discarded, 3)

	// Discarded tasks never run, and their handles resolve with the
	// rejection rather than hanging.
	for _, h := range handles {
		assertUnblocks(t, func() { assert.ErrorIs(t, h.Wait(), taskgroup.ErrRejected) })
	}
	assert.Equal(t, int32(0), ran.Load())

	// The returned functions are the originals, runnable elsewhere.
	for _, fn := range discarded {
		assert.NoError(t, fn())
	}
	assert.Equal(t, int32(3), ran.Load())

	close(unblock)
	assert.True(t, g.AwaitTermination(timeout))
}

func TestAwaitTerminationTimesOutWithoutShutdown(t *testing.T) {
	g := taskgroup.New(1)
	defer shutdownAndWait(t, g)

	assert.False(t, g.AwaitTermination(20*time.Millisecond))
	assert.False(t, g.IsTerminated())
}

func shutdownAndWait(t *testing.T, g *taskgroup.Group) {
	t.Helper()
	g.Shutdown()
	if !g.AwaitTermination(timeout) {
		t.Errorf("group did not terminate within %v", timeout)
	}
}
