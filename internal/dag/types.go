package dag

import (
	"context"
	"sync"
	"sync/atomic"
)

// TaskFunc is the body of a task. A body runs to completion on one worker;
// a non-nil error marks the task Failed.
type TaskFunc func(ctx context.Context) error

// Graph is a collection of tasks and precedence edges. Once frozen (by
// MakeTemplate or by being scheduled) it is read-only and safe for concurrent
// use by any number of executions.
type Graph struct {
	// mutex protects tasks and their edge lists during construction.
	mutex sync.RWMutex
	// name labels the graph in dumps and task paths.
	name string
	// tasks holds every task in insertion order; a task's id is its index.
	tasks []*Task
	// frozen is set once the graph may no longer change.
	frozen atomic.Bool
}

// Task is a vertex in a Graph. It is either a plain task wrapping a TaskFunc
// or a module task standing for one instance of another Graph.
type Task struct {
	id    int
	name  string
	graph *Graph
	fn    TaskFunc
	// module is the composed template for module tasks, nil otherwise.
	module *Graph
	// successors and predecessors are kept in edge insertion order.
	successors   []*Task
	predecessors []*Task
}

// Edge is a precedence relation between two tasks of the same graph, by id:
// To may only start after From has completed.
type Edge struct {
	From int
	To   int
}

// State represents the execution state of one task instance.
type State int32

const (
	// Pending indicates the task is waiting for its predecessors.
	Pending State = iota
	// Ready indicates every predecessor completed and the task is queued.
	Ready
	// Running indicates a worker is executing the task.
	Running
	// Done indicates the task completed successfully.
	Done
	// Failed indicates the task failed, was skipped or was cancelled.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunState is the lifecycle of one submission to an Executor.
type RunState int32

const (
	// RunBuilt is the state of a run that has not been scheduled.
	RunBuilt RunState = iota
	// RunScheduled indicates the graph is frozen and the run is queued.
	RunScheduled
	// RunRunning indicates workers are executing the graph.
	RunRunning
	// RunCompleted indicates every task of every requested run completed.
	RunCompleted
	// RunFailed indicates at least one task failed or the run was cancelled.
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunBuilt:
		return "built"
	case RunScheduled:
		return "scheduled"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}
