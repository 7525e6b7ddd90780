package dag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vk/dnnflow/internal/ctxlog"
)

// Executor runs graphs on a fixed number of workers. Submissions to one
// executor are serialized: a run starts only after the previous one resolved.
type Executor struct {
	numWorkers int
	observers  []Observer

	// runMutex serializes submissions.
	runMutex sync.Mutex
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver registers an observer notified of every task transition.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewExecutor creates an executor with the given number of workers.
func NewExecutor(workers int, opts ...ExecutorOption) (*Executor, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workers)
	}
	e := &Executor{numWorkers: workers}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Workers returns the size of the worker pool.
func (e *Executor) Workers() int {
	return e.numWorkers
}

// Future is the handle of a submitted run.
type Future struct {
	id    string
	state atomic.Int32
	done  chan struct{}
	err   error
}

// ID returns the run's unique id.
func (f *Future) ID() string { return f.id }

// State returns the run's current lifecycle state.
func (f *Future) State() RunState { return RunState(f.state.Load()) }

// Done is closed once the run reached RunCompleted or RunFailed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the run resolves and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

func (f *Future) resolve(err error) {
	f.err = err
	if err != nil {
		f.state.Store(int32(RunFailed))
	} else {
		f.state.Store(int32(RunCompleted))
	}
	close(f.done)
}

// Run executes g once and blocks until it completes or fails.
func (e *Executor) Run(ctx context.Context, g *Graph) error {
	return e.Submit(ctx, g, 1).Wait()
}

// RunN executes g n times in sequence and blocks until all runs complete or
// one fails. Run k+1 starts only after every task of run k has resolved.
func (e *Executor) RunN(ctx context.Context, g *Graph, n int) error {
	return e.Submit(ctx, g, n).Wait()
}

// Submit freezes g, schedules n sequential executions of it and returns
// immediately. No edges may be added to g once Submit was called.
func (e *Executor) Submit(ctx context.Context, g *Graph, n int) *Future {
	f := &Future{id: uuid.NewString(), done: make(chan struct{})}
	if g == nil {
		f.resolve(fmt.Errorf("submitting nil graph"))
		return f
	}
	if n <= 0 {
		f.resolve(fmt.Errorf("%w: got %d", ErrInvalidRunCount, n))
		return f
	}
	if err := g.DetectCycles(); err != nil {
		f.resolve(fmt.Errorf("error validating graph %q: %w", g.name, err))
		return f
	}

	g.freeze()
	f.state.Store(int32(RunScheduled))

	go func() {
		e.runMutex.Lock()
		defer e.runMutex.Unlock()

		logger := ctxlog.FromContext(ctx).With("runID", f.id, "graph", g.name)
		ctx := ctxlog.WithLogger(ctx, logger)
		f.state.Store(int32(RunRunning))

		start := time.Now()
		for i := 0; i < n; i++ {
			logger.Debug("Starting graph execution.", "iteration", i, "of", n)
			if err := e.execute(ctx, g, f.id, i); err != nil {
				logger.Error("Graph execution failed.", "iteration", i, "error", err)
				f.resolve(err)
				return
			}
		}
		logger.Info("Graph execution finished.", "runs", n, "elapsed", time.Since(start))
		f.resolve(nil)
	}()
	return f
}
