package dag

import "fmt"

// MakeTemplate builds a graph with the given function and freezes it, so it
// can be composed into any number of parents and executed any number of times.
func MakeTemplate(name string, build func(g *Graph) error) (*Graph, error) {
	g := New(name)
	if err := build(g); err != nil {
		return nil, fmt.Errorf("building template %q: %w", name, err)
	}
	if err := g.DetectCycles(); err != nil {
		return nil, fmt.Errorf("validating template %q: %w", name, err)
	}
	g.freeze()
	return g, nil
}

// Compose embeds one instance of tmpl into g as a single module task. Edges
// into the returned task gate the template's entry tasks and edges out of it
// wait for all of the template's exit tasks. The template is shared by
// reference; every execution of the module task gets fresh bookkeeping.
func (g *Graph) Compose(name string, tmpl *Graph) (*Task, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("composing nil template into %q", g.name)
	}
	if g.Frozen() {
		return nil, fmt.Errorf("%w: cannot compose %q into %q", ErrFrozen, tmpl.name, g.name)
	}
	if tmpl == g || tmpl.composes(g) {
		return nil, &CycleError{From: g.name, To: tmpl.name, Path: []string{tmpl.name, g.name}}
	}
	if name == "" {
		name = tmpl.name
	}
	return g.add(name, nil, tmpl), nil
}

// composes reports whether g contains a module task for target, directly or
// through nested modules.
func (g *Graph) composes(target *Graph) bool {
	seen := make(map[*Graph]bool)

	var walk func(cur *Graph) bool
	walk = func(cur *Graph) bool {
		if seen[cur] {
			return false
		}
		seen[cur] = true
		for _, t := range cur.Tasks() {
			if t.module == nil {
				continue
			}
			if t.module == target || walk(t.module) {
				return true
			}
		}
		return false
	}
	return walk(g)
}

// freeze marks g and every graph it composes as read-only.
func (g *Graph) freeze() {
	g.mutex.Lock()
	g.frozen.Store(true)
	tasks := g.tasks
	g.mutex.Unlock()

	for _, t := range tasks {
		if t.module != nil && !t.module.Frozen() {
			t.module.freeze()
		}
	}
}

// instanceCount returns how many task instances one execution of g creates,
// counting the expansion of every module task.
func (g *Graph) instanceCount(memo map[*Graph]int) int {
	if n, ok := memo[g]; ok {
		return n
	}
	n := 0
	for _, t := range g.tasks {
		n++
		if t.module != nil {
			n += t.module.instanceCount(memo)
		}
	}
	memo[g] = n
	return n
}
