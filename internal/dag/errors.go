package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is matched by every CycleError.
	ErrCycle = errors.New("cycle detected")
	// ErrFrozen is returned when a frozen graph is modified.
	ErrFrozen = errors.New("graph is frozen")
	// ErrForeignTask is returned when an edge joins tasks of different graphs.
	ErrForeignTask = errors.New("task belongs to another graph")
	// ErrSkipped marks tasks that never ran because an upstream task failed.
	ErrSkipped = errors.New("skipped")
	// ErrRunCancelled marks tasks refused because the run context ended.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrInvalidWorkerCount is returned for executors with fewer than one worker.
	ErrInvalidWorkerCount = errors.New("worker count must be greater than zero")
	// ErrInvalidRunCount is returned when fewer than one run is requested.
	ErrInvalidRunCount = errors.New("run count must be greater than zero")
)

// CycleError reports an edge or composition that would close a cycle.
type CycleError struct {
	From string
	To   string
	// Path is the existing route from To back to From, if one was found.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s: %s -> %s", ErrCycle, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s -> %s", ErrCycle, e.From, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// TaskExecutionError wraps the failure of a task body.
type TaskExecutionError struct {
	// Task is the full path of the task instance, e.g. "model[0]/epoch[2]/update[1]".
	Task string
	Err  error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// UnresolvedGraphError reports a task that was scheduled before all of its
// predecessors completed. It always indicates an engine bug.
type UnresolvedGraphError struct {
	Task   string
	Detail string
}

func (e *UnresolvedGraphError) Error() string {
	return fmt.Sprintf("unresolved graph at task %q: %s", e.Task, e.Detail)
}
