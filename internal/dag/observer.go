package dag

import "time"

// TaskEvent describes one transition of a task instance during a run.
type TaskEvent struct {
	// RunID identifies the submission the event belongs to.
	RunID string
	// Iteration is the zero-based index of the top-level run within RunN.
	Iteration int
	// Path is the task's full path through the module tasks above it.
	Path string
	// Task is the structural task this instance realizes.
	Task *Task
	// Worker is the id of the worker that produced the event, -1 if none.
	Worker int
	State  State
	Err    error
	Time   time.Time
}

// Observer receives task events. Calls come from worker goroutines
// concurrently and must not block.
type Observer interface {
	TaskStarted(ev TaskEvent)
	TaskFinished(ev TaskEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnStart  func(ev TaskEvent)
	OnFinish func(ev TaskEvent)
}

// TaskStarted implements Observer.
func (o ObserverFuncs) TaskStarted(ev TaskEvent) {
	if o.OnStart != nil {
		o.OnStart(ev)
	}
}

// TaskFinished implements Observer.
func (o ObserverFuncs) TaskFinished(ev TaskEvent) {
	if o.OnFinish != nil {
		o.OnFinish(ev)
	}
}
