package dag

import (
	"fmt"
)

// New creates and returns an initialized, empty Graph.
func New(name string) *Graph {
	return &Graph{name: name}
}

// Name returns the graph's label.
func (g *Graph) Name() string {
	return g.name
}

// Frozen reports whether the graph can still be modified.
func (g *Graph) Frozen() bool {
	return g.frozen.Load()
}

// Emplace adds a task running fn and returns its handle. A nil fn is a no-op
// placeholder. An empty name defaults to "task<id>". Emplace panics on a
// frozen graph: adding work to a scheduled graph is a programming error.
func (g *Graph) Emplace(name string, fn TaskFunc) *Task {
	return g.add(name, fn, nil)
}

func (g *Graph) add(name string, fn TaskFunc, module *Graph) *Task {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.frozen.Load() {
		panic(fmt.Errorf("%w: cannot add task %q to %q", ErrFrozen, name, g.name))
	}

	id := len(g.tasks)
	if name == "" {
		name = fmt.Sprintf("task%d", id)
	}
	t := &Task{id: id, name: name, graph: g, fn: fn, module: module}
	g.tasks = append(g.tasks, t)
	return t
}

// AddEdge creates a directed edge from `from` to `to`, meaning `to` may only
// start after `from` has completed. Adding an existing edge is a no-op. A
// CycleError is returned if the edge would close a cycle.
func (g *Graph) AddEdge(from, to *Task) error {
	if from == nil || to == nil {
		return fmt.Errorf("nil task in edge of graph %q", g.name)
	}
	if from.graph != g || to.graph != g {
		return fmt.Errorf("%w: edge %s -> %s added to %q", ErrForeignTask, from.name, to.name, g.name)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.frozen.Load() {
		return fmt.Errorf("%w: cannot add edge %s -> %s to %q", ErrFrozen, from.name, to.name, g.name)
	}
	if from == to {
		return &CycleError{From: from.name, To: to.name, Path: []string{from.name}}
	}
	for _, s := range from.successors {
		if s == to {
			return nil
		}
	}
	if path := pathBetween(to, from); path != nil {
		return &CycleError{From: from.name, To: to.name, Path: path}
	}

	from.successors = append(from.successors, to)
	to.predecessors = append(to.predecessors, from)
	return nil
}

// pathBetween returns the task names along a path from src to dst, or nil
// if dst is unreachable. Callers hold the graph lock.
func pathBetween(src, dst *Task) []string {
	visited := make(map[*Task]bool)
	var path []string

	var visit func(t *Task) bool
	visit = func(t *Task) bool {
		if visited[t] {
			return false
		}
		visited[t] = true
		path = append(path, t.name)
		if t == dst {
			return true
		}
		for _, s := range t.successors {
			if visit(s) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(src) {
		return path
	}
	return nil
}

// Linearize chains the given tasks so each one precedes the next.
func (g *Graph) Linearize(tasks ...*Task) error {
	for i := 0; i+1 < len(tasks); i++ {
		if err := g.AddEdge(tasks[i], tasks[i+1]); err != nil {
			return fmt.Errorf("linearizing %q at position %d: %w", g.name, i, err)
		}
	}
	return nil
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.tasks)
}

// Tasks returns the graph's tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	out := make([]*Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Task returns the first task with the given name.
func (g *Graph) Task(name string) (*Task, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	for _, t := range g.tasks {
		if t.name == name {
			return t, true
		}
	}
	return nil, false
}

// Edges returns every edge ordered by source id, then by insertion.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var edges []Edge
	for _, t := range g.tasks {
		for _, s := range t.successors {
			edges = append(edges, Edge{From: t.id, To: s.id})
		}
	}
	return edges
}

// Entries returns the tasks without predecessors.
func (g *Graph) Entries() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var out []*Task
	for _, t := range g.tasks {
		if len(t.predecessors) == 0 {
			out = append(out, t)
		}
	}
	return out
}

// Exits returns the tasks without successors.
func (g *Graph) Exits() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var out []*Task
	for _, t := range g.tasks {
		if len(t.successors) == 0 {
			out = append(out, t)
		}
	}
	return out
}

// DetectCycles checks the whole graph for cycles. AddEdge already refuses
// cycle-closing edges, so this is a validation pass run before scheduling.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three colours:
	// permanent: nodes fully visited and known not to be part of a cycle.
	// temporary: nodes on the current recursion stack.
	permanent := make(map[*Task]bool)
	temporary := make(map[*Task]bool)

	var visit func(t *Task) error
	visit = func(t *Task) error {
		if permanent[t] {
			return nil
		}
		if temporary[t] {
			return &CycleError{From: t.name, To: t.name}
		}
		temporary[t] = true
		for _, s := range t.successors {
			if err := visit(s); err != nil {
				return err
			}
		}
		delete(temporary, t)
		permanent[t] = true
		return nil
	}

	for _, t := range g.tasks {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}

// ID returns the task's index in its graph.
func (t *Task) ID() int { return t.id }

// Name returns the task's label.
func (t *Task) Name() string { return t.name }

// Graph returns the graph owning the task.
func (t *Task) Graph() *Graph { return t.graph }

// Module returns the composed template of a module task, or nil.
func (t *Task) Module() *Graph { return t.module }

// Precede adds edges from t to each of the given tasks.
func (t *Task) Precede(tasks ...*Task) error {
	for _, other := range tasks {
		if err := t.graph.AddEdge(t, other); err != nil {
			return err
		}
	}
	return nil
}

// Succeed adds edges from each of the given tasks to t.
func (t *Task) Succeed(tasks ...*Task) error {
	for _, other := range tasks {
		if err := t.graph.AddEdge(other, t); err != nil {
			return err
		}
	}
	return nil
}

// Gather makes t a join point of the given tasks: t starts only after all
// of them complete. The arity is whatever list the caller assembled.
func (t *Task) Gather(tasks ...*Task) error {
	return t.Succeed(tasks...)
}

// Successors returns the tasks that depend on t.
func (t *Task) Successors() []*Task {
	t.graph.mutex.RLock()
	defer t.graph.mutex.RUnlock()

	out := make([]*Task, len(t.successors))
	copy(out, t.successors)
	return out
}

// Predecessors returns the tasks t depends on.
func (t *Task) Predecessors() []*Task {
	t.graph.mutex.RLock()
	defer t.graph.mutex.RUnlock()

	out := make([]*Task, len(t.predecessors))
	copy(out, t.predecessors)
	return out
}

// NumPredecessors returns the number of tasks t depends on.
func (t *Task) NumPredecessors() int {
	t.graph.mutex.RLock()
	defer t.graph.mutex.RUnlock()
	return len(t.predecessors)
}
