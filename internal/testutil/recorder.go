package testutil

import (
	"context"
	"sync"
	"time"
)

// Recorder is a shared, concurrency-safe log of task executions for engine
// tests. It records when each task ran and the order tasks finished in.
type Recorder struct {
	mu      sync.Mutex
	records map[string]ExecutionRecord
	order   []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{records: make(map[string]ExecutionRecord)}
}

// Track returns a task body that sleeps for d and records its execution
// under name. It matches dag.TaskFunc without importing the engine.
func (r *Recorder) Track(name string, d time.Duration) func(context.Context) error {
	return r.TrackFn(name, func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// TrackFn wraps fn so its execution is recorded under name.
func (r *Recorder) TrackFn(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		r.Record(name, start, time.Now())
		return err
	}
}

// Record stores one execution.
func (r *Recorder) Record(name string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = ExecutionRecord{Start: start, End: end}
	r.order = append(r.order, name)
}

// Get returns the execution recorded under name.
func (r *Recorder) Get(name string) (ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Order returns task names in the order they finished.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns how many executions were recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Index returns the finishing position of name, or -1 if it never ran.
func (r *Recorder) Index(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}
