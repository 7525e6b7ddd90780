package dag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dnnflow/internal/testutil"
)

func newTestExecutor(t *testing.T, workers int, opts ...ExecutorOption) *Executor {
	t.Helper()
	e, err := NewExecutor(workers, opts...)
	require.NoError(t, err)
	return e
}

func TestNewExecutor_InvalidWorkers(t *testing.T) {
	_, err := NewExecutor(0)
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)

	e, err := NewExecutor(3)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Workers())
}

func TestExecutor_LinearOrder(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	rec := testutil.NewRecorder()
	g := New("chain")
	var tasks []*Task
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("t%d", i)
		tasks = append(tasks, g.Emplace(name, rec.Track(name, time.Millisecond)))
	}
	require.NoError(t, g.Linearize(tasks...))

	// --- Act ---
	err := newTestExecutor(t, 4).Run(context.Background(), g)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4"}, rec.Order())
	assert.True(t, g.Frozen(), "a scheduled graph is frozen")
}

func TestExecutor_FanInWaitsForAll(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	rec := testutil.NewRecorder()
	g := New("fan-in")
	join := g.Emplace("join", rec.Track("join", 0))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, join.Gather(g.Emplace(name, rec.Track(name, 20*time.Millisecond))))
	}

	// --- Act ---
	require.NoError(t, newTestExecutor(t, 4).Run(context.Background(), g))

	// --- Assert ---
	joinRec, ok := rec.Get("join")
	require.True(t, ok)
	for _, name := range []string{"a", "b", "c"} {
		r, _ := rec.Get(name)
		assert.False(t, joinRec.Start.Before(r.End), "join started before %s finished", name)
	}
}

func TestExecutor_FanOutRunsConcurrently(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	const branches = 4
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, branches)

	g := New("fan-out")
	for i := 0; i < branches; i++ {
		g.Emplace("", func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			inFlight.Add(-1)
			return nil
		})
	}

	// --- Act ---
	fut := newTestExecutor(t, branches).Submit(context.Background(), g, 1)
	for i := 0; i < branches; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("branches did not start concurrently")
		}
	}
	close(release)

	// --- Assert ---
	require.NoError(t, fut.Wait())
	assert.Equal(t, int32(branches), peak.Load())
	assert.Equal(t, RunCompleted, fut.State())
}

func TestExecutor_FailureSkipsDependents(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	boom := errors.New("boom")
	rec := testutil.NewRecorder()
	var skipped sync.Map

	g := New("failing")
	a := g.Emplace("a", func(context.Context) error { return boom })
	b := g.Emplace("b", rec.Track("b", 0))
	c := g.Emplace("c", rec.Track("c", 0))
	g.Emplace("side", rec.Track("side", 0))
	require.NoError(t, g.Linearize(a, b, c))

	e := newTestExecutor(t, 2, WithObserver(ObserverFuncs{
		OnFinish: func(ev TaskEvent) {
			if errors.Is(ev.Err, ErrSkipped) {
				skipped.Store(ev.Path, ev.State)
			}
		},
	}))

	// --- Act ---
	fut := e.Submit(context.Background(), g, 1)
	err := fut.Wait()

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "a", taskErr.Task)
	assert.ErrorContains(t, err, "execution failed for a")
	assert.Equal(t, RunFailed, fut.State())

	assert.Equal(t, -1, rec.Index("b"))
	assert.Equal(t, -1, rec.Index("c"))
	assert.NotEqual(t, -1, rec.Index("side"), "independent tasks still run")
	for _, name := range []string{"b", "c"} {
		st, ok := skipped.Load(name)
		require.True(t, ok, "%s was not reported as skipped", name)
		assert.Equal(t, Failed, st)
	}
}

func TestExecutor_PanicBecomesTaskError(t *testing.T) {
	t.Parallel()
	g := New("panicky")
	g.Emplace("explode", func(context.Context) error { panic("kaboom") })

	err := newTestExecutor(t, 1).Run(context.Background(), g)

	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "explode", taskErr.Task)
	assert.ErrorContains(t, err, "kaboom")
}

func TestExecutor_ModuleTasks(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	rec := testutil.NewRecorder()
	inner, err := MakeTemplate("inner", func(g *Graph) error {
		x := g.Emplace("x", nil)
		y := g.Emplace("y", nil)
		return g.Linearize(x, y)
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var paths []string
	observer := ObserverFuncs{OnFinish: func(ev TaskEvent) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, ev.Path)
	}}

	g := New("outer")
	before := g.Emplace("before", rec.Track("before", 0))
	m0, err := g.Compose("m[0]", inner)
	require.NoError(t, err)
	m1, err := g.Compose("m[1]", inner)
	require.NoError(t, err)
	after := g.Emplace("after", rec.Track("after", 0))
	require.NoError(t, before.Precede(m0, m1))
	require.NoError(t, after.Gather(m0, m1))

	// --- Act ---
	// A single worker must still make progress through nested frames.
	require.NoError(t, newTestExecutor(t, 1, WithObserver(observer)).Run(context.Background(), g))

	// --- Assert ---
	assert.Equal(t, []string{"before", "after"}, rec.Order())
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{
		"before", "m[0]/x", "m[0]/y", "m[0]", "m[1]/x", "m[1]/y", "m[1]", "after",
	}, paths)
	idx := func(p string) int {
		for i, v := range paths {
			if v == p {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("m[0]/y"), idx("m[0]"), "a module completes after its exits")
	assert.Less(t, idx("m[1]"), idx("after"))
}

func TestExecutor_ModuleFailureIsIsolated(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	boom := errors.New("replica diverged")
	var calls atomic.Int32
	inner, err := MakeTemplate("step", func(g *Graph) error {
		g.Emplace("work", func(context.Context) error {
			if calls.Add(1) == 1 {
				return boom
			}
			return nil
		})
		return nil
	})
	require.NoError(t, err)

	rec := testutil.NewRecorder()
	g := New("replicas")
	bad, err := g.Compose("bad", inner)
	require.NoError(t, err)
	good, err := g.Compose("good", inner)
	require.NoError(t, err)
	require.NoError(t, bad.Precede(g.Emplace("after-bad", rec.Track("after-bad", 0))))
	require.NoError(t, good.Precede(g.Emplace("after-good", rec.Track("after-good", 0))))

	// --- Act ---
	// With one worker the queue is FIFO, so "bad/work" is the first body to run.
	err = newTestExecutor(t, 1).Run(context.Background(), g)

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "bad/work", taskErr.Task)
	assert.Equal(t, -1, rec.Index("after-bad"))
	assert.NotEqual(t, -1, rec.Index("after-good"), "a failing module does not affect its siblings")
}

func TestExecutor_Cancellation(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := testutil.NewRecorder()
	g := New("cancel")
	first := g.Emplace("first", func(context.Context) error {
		cancel()
		return nil
	})
	second := g.Emplace("second", rec.Track("second", 0))
	require.NoError(t, first.Precede(second))

	// --- Act ---
	err := newTestExecutor(t, 1).Run(ctx, g)

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, rec.Index("second"), "tasks not yet started are refused")
}

func TestExecutor_RunN(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	var mu sync.Mutex
	var log []string
	g := New("repeat")
	a := g.Emplace("a", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, "a")
		return nil
	})
	b := g.Emplace("b", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, "b")
		return nil
	})
	require.NoError(t, a.Precede(b))

	// --- Act ---
	require.NoError(t, newTestExecutor(t, 3).RunN(context.Background(), g, 3))

	// --- Assert ---
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, log, "runs never overlap")
}

func TestExecutor_RunNStopsOnFailure(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	g := New("fails-second")
	g.Emplace("x", func(context.Context) error {
		if runs.Add(1) == 2 {
			return errors.New("second run fails")
		}
		return nil
	})

	err := newTestExecutor(t, 2).RunN(context.Background(), g, 5)

	require.Error(t, err)
	assert.Equal(t, int32(2), runs.Load())
}

func TestExecutor_SubmitValidation(t *testing.T) {
	e := newTestExecutor(t, 1)

	assert.Error(t, e.Submit(context.Background(), nil, 1).Wait())
	assert.ErrorIs(t, e.Submit(context.Background(), New("g"), 0).Wait(), ErrInvalidRunCount)

	g := New("cyclic")
	a := g.Emplace("a", noop)
	b := g.Emplace("b", noop)
	require.NoError(t, a.Precede(b))
	b.successors = append(b.successors, a)
	a.predecessors = append(a.predecessors, b)
	fut := e.Submit(context.Background(), g, 1)
	assert.ErrorIs(t, fut.Wait(), ErrCycle)
	assert.Equal(t, RunFailed, fut.State())
}

func TestExecutor_EmptyGraph(t *testing.T) {
	g := New("empty")
	m := New("outer")
	_, err := m.Compose("nothing", g)
	require.NoError(t, err)

	e := newTestExecutor(t, 2)
	assert.NoError(t, e.Run(context.Background(), g))
	assert.NoError(t, e.Run(context.Background(), m))
}

func TestExecutor_UnresolvedGraph(t *testing.T) {
	g := New("broken")
	a := g.Emplace("a", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	b := g.Emplace("b", noop)
	require.NoError(t, a.Precede(b))

	e := newTestExecutor(t, 2)
	r := &run{exec: e, ctx: context.Background(), ready: make(chan *instance, 2)}
	f := r.newFrame(g, nil, "")

	// Push b past the dependency counter, as a scheduler bug would.
	bi := f.instances[b.ID()]
	bi.pending.Store(0)
	bi.state.Store(int32(Ready))
	err := r.checkResolved(bi)

	var unresolved *UnresolvedGraphError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "b", unresolved.Task)
	assert.Contains(t, unresolved.Detail, `predecessor "a" is pending`)
}

func TestExecutor_ObserverSeesWorkerAndRun(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var events []TaskEvent
	obs := ObserverFuncs{
		OnStart: func(ev TaskEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
	}

	g := New("observed")
	g.Emplace("only", noop)
	fut := newTestExecutor(t, 1, WithObserver(obs)).Submit(context.Background(), g, 2)
	require.NoError(t, fut.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, fut.ID(), ev.RunID)
		assert.Equal(t, i, ev.Iteration)
		assert.Equal(t, 0, ev.Worker)
		assert.Equal(t, Running, ev.State)
		assert.Equal(t, "only", ev.Task.Name())
	}
}
