package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/dnnflow/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// run holds the transient state of one top-level execution of a graph.
type run struct {
	exec      *Executor
	ctx       context.Context
	id        string
	iteration int
	ready     chan *instance
	wg        sync.WaitGroup

	// errMutex protects failed, rootCauses and unresolved.
	errMutex   sync.Mutex
	failed     []string
	rootCauses []error
	unresolved error
}

// frame is one instance of a graph: the per-execution bookkeeping for every
// task of that graph.
type frame struct {
	graph     *Graph
	instances []*instance
	// remaining counts instances not yet in a terminal state.
	remaining atomic.Int32
	// failed is set once any instance of the frame failed or was skipped.
	failed atomic.Bool
	// parent is the module task instance this frame realizes, nil for the top frame.
	parent *instance
}

// instance is one execution of a Task inside a frame.
type instance struct {
	task  *Task
	frame *frame
	path  string
	// pending is the number of predecessors that have not completed.
	pending atomic.Int32
	state   atomic.Int32
	err     error
}

func (it *instance) getState() State { return State(it.state.Load()) }

// execute runs g once to completion on a fresh set of frames.
func (e *Executor) execute(ctx context.Context, g *Graph, runID string, iteration int) error {
	logger := ctxlog.FromContext(ctx)

	r := &run{
		exec:      e,
		ctx:       ctx,
		id:        runID,
		iteration: iteration,
		// Every instance is queued at most once, so a buffer of this size
		// means a worker never blocks on a send.
		ready: make(chan *instance, g.instanceCount(make(map[*Graph]int))),
	}

	top := r.newFrame(g, nil, "")
	logger.Debug("Initializing run, scheduling entry tasks.", "tasks", len(top.instances))

	var workers errgroup.Group
	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		workerID := i
		workers.Go(func() error {
			r.worker(workerID)
			return nil
		})
	}

	r.start(top)
	r.wg.Wait()
	close(r.ready)
	_ = workers.Wait()
	logger.Debug("All task instances resolved.")

	return r.result()
}

// newFrame creates the bookkeeping for one instance of g and registers its
// instances with the run's wait group.
func (r *run) newFrame(g *Graph, parent *instance, prefix string) *frame {
	f := &frame{graph: g, parent: parent, instances: make([]*instance, len(g.tasks))}
	for i, t := range g.tasks {
		it := &instance{task: t, frame: f, path: prefix + t.name}
		it.pending.Store(int32(len(t.predecessors)))
		f.instances[i] = it
	}
	f.remaining.Store(int32(len(f.instances)))
	r.wg.Add(len(f.instances))
	return f
}

// start queues the entry instances of f. An empty frame completes at once.
func (r *run) start(f *frame) {
	if len(f.instances) == 0 {
		if f.parent != nil {
			r.complete(f.parent, -1)
		}
		return
	}
	for _, it := range f.instances {
		if it.pending.Load() == 0 {
			r.enqueue(it)
		}
	}
}

// enqueue moves it from Pending to Ready and hands it to the workers.
func (r *run) enqueue(it *instance) {
	if !it.state.CompareAndSwap(int32(Pending), int32(Ready)) {
		r.recordUnresolved(&UnresolvedGraphError{
			Task:   it.path,
			Detail: fmt.Sprintf("queued while %s", it.getState()),
		})
		return
	}
	r.ready <- it
}

// worker is the core processing loop for a single concurrent worker.
func (r *run) worker(workerID int) {
	logger := ctxlog.FromContext(r.ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for it := range r.ready {
		workerLogger := logger.With("workerID", workerID, "task", it.path)

		if err := r.ctx.Err(); err != nil {
			workerLogger.Warn("Run cancelled, refusing to start task.")
			r.fail(it, workerID, fmt.Errorf("%w: %w", ErrRunCancelled, err), true)
			continue
		}

		if err := r.checkResolved(it); err != nil {
			workerLogger.Error("Task scheduled with unresolved predecessors.", "error", err)
			r.recordUnresolved(err)
			r.fail(it, workerID, err, false)
			continue
		}

		it.state.Store(int32(Running))
		r.notifyStart(it, workerID)

		if it.task.module != nil {
			workerLogger.Debug("Expanding module task.", "template", it.task.module.name)
			r.start(r.newFrame(it.task.module, it, it.path+"/"))
			continue
		}

		workerLogger.Debug("Worker picked up task for execution.")
		if err := r.invoke(it); err != nil {
			workerLogger.Error("Task execution failed.", "error", err)
			r.fail(it, workerID, &TaskExecutionError{Task: it.path, Err: err}, true)
			continue
		}

		workerLogger.Debug("Task execution succeeded.")
		r.complete(it, workerID)
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// checkResolved verifies that it may start: it is Ready, its counter reached
// zero and every predecessor instance is Done.
func (r *run) checkResolved(it *instance) error {
	if st := it.getState(); st != Ready {
		return &UnresolvedGraphError{Task: it.path, Detail: fmt.Sprintf("dequeued while %s", st)}
	}
	if n := it.pending.Load(); n != 0 {
		return &UnresolvedGraphError{Task: it.path, Detail: fmt.Sprintf("%d predecessors outstanding", n)}
	}
	for _, p := range it.task.predecessors {
		if st := it.frame.instances[p.id].getState(); st != Done {
			return &UnresolvedGraphError{Task: it.path, Detail: fmt.Sprintf("predecessor %q is %s", p.name, st)}
		}
	}
	return nil
}

// invoke runs the task body, converting a panic into an error.
func (r *run) invoke(it *instance) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if it.task.fn == nil {
		return nil
	}
	return it.task.fn(ctxlog.With(r.ctx, "task", it.path))
}

// complete marks it Done, releases its successors and retires it.
func (r *run) complete(it *instance, workerID int) {
	it.state.Store(int32(Done))
	r.notifyFinish(it, workerID)

	f := it.frame
	for _, s := range it.task.successors {
		succ := f.instances[s.id]
		if succ.pending.Add(-1) == 0 {
			ctxlog.FromContext(r.ctx).Debug("Unlocking dependent task.", "task", it.path, "dependent", succ.path)
			r.enqueue(succ)
		}
	}
	r.retire(it)
}

// fail marks it Failed, skips everything downstream of it in its frame and
// retires it. rootCause reports whether err originates here rather than
// being a consequence of another failure.
func (r *run) fail(it *instance, workerID int, err error, rootCause bool) {
	it.err = err
	it.state.Store(int32(Failed))
	it.frame.failed.Store(true)
	if rootCause {
		r.recordFailure(it.path, err)
	}
	r.notifyFinish(it, workerID)
	r.skipDependents(it)
	r.retire(it)
}

// skipDependents recursively marks all pending downstream instances as
// failed. The state CAS guarantees each one is skipped exactly once.
func (r *run) skipDependents(it *instance) {
	logger := ctxlog.FromContext(r.ctx)
	for _, s := range it.task.successors {
		dep := it.frame.instances[s.id]
		if !dep.state.CompareAndSwap(int32(Pending), int32(Failed)) {
			continue
		}
		logger.Warn("Skipping dependent task due to upstream failure.", "task", dep.path, "dependency", it.path)
		dep.err = fmt.Errorf("%w due to upstream failure of %q", ErrSkipped, it.path)
		r.notifyFinish(dep, -1)
		r.skipDependents(dep)
		r.retire(dep)
	}
}

// retire accounts for an instance reaching a terminal state. The last
// instance of a module frame resolves the module task in the parent frame.
func (r *run) retire(it *instance) {
	f := it.frame
	if f.remaining.Add(-1) == 0 && f.parent != nil {
		if f.failed.Load() {
			err := fmt.Errorf("%w: instance %q did not complete", ErrSkipped, f.parent.path)
			r.fail(f.parent, -1, err, false)
		} else {
			r.complete(f.parent, -1)
		}
	}
	r.wg.Done()
}

func (r *run) recordFailure(path string, err error) {
	r.errMutex.Lock()
	defer r.errMutex.Unlock()
	r.failed = append(r.failed, path)
	r.rootCauses = append(r.rootCauses, err)
}

func (r *run) recordUnresolved(err error) {
	r.errMutex.Lock()
	defer r.errMutex.Unlock()
	if r.unresolved == nil {
		r.unresolved = err
	}
}

// result reports the run's outcome once every instance has resolved.
func (r *run) result() error {
	r.errMutex.Lock()
	defer r.errMutex.Unlock()

	if r.unresolved != nil {
		return r.unresolved
	}
	if len(r.rootCauses) == 0 {
		return nil
	}

	// Prefer a real task failure over a cancellation as the reported cause.
	cause := r.rootCauses[0]
	for _, err := range r.rootCauses {
		if !errors.Is(err, ErrRunCancelled) {
			cause = err
			break
		}
	}
	return fmt.Errorf("execution failed for %s: %w", strings.Join(r.failed, ", "), cause)
}

func (r *run) event(it *instance, workerID int) TaskEvent {
	return TaskEvent{
		RunID:     r.id,
		Iteration: r.iteration,
		Path:      it.path,
		Task:      it.task,
		Worker:    workerID,
		State:     it.getState(),
		Err:       it.err,
		Time:      time.Now(),
	}
}

func (r *run) notifyStart(it *instance, workerID int) {
	if len(r.exec.observers) == 0 {
		return
	}
	ev := r.event(it, workerID)
	for _, o := range r.exec.observers {
		o.TaskStarted(ev)
	}
}

func (r *run) notifyFinish(it *instance, workerID int) {
	if len(r.exec.observers) == 0 {
		return
	}
	ev := r.event(it, workerID)
	for _, o := range r.exec.observers {
		o.TaskFinished(ev)
	}
}
