package training

import (
	"fmt"

	"github.com/vk/dnnflow/internal/dag"
)

// EpochTask returns the name of the k-th epoch in a chain.
func EpochTask(k int) string { return fmt.Sprintf("epoch[%d]", k) }

// ReplicaTask returns the name of the i-th model's chain in a pipeline.
func ReplicaTask(i int) string { return fmt.Sprintf("model[%d]", i) }

// NewChain builds a template running step epochs times in strict sequence.
// Epoch k+1 becomes eligible only once every exit of epoch k is done.
func NewChain(name string, step *dag.Graph, epochs int) (*dag.Graph, error) {
	if step == nil {
		return nil, fmt.Errorf("chain %q: nil step template", name)
	}
	if epochs <= 0 {
		return nil, fmt.Errorf("chain %q: epoch count must be positive, got %d", name, epochs)
	}

	return dag.MakeTemplate(name, func(g *dag.Graph) error {
		tasks := make([]*dag.Task, 0, epochs)
		for k := 0; k < epochs; k++ {
			t, err := g.Compose(EpochTask(k), step)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return g.Linearize(tasks...)
	})
}

// ComposeReplicas embeds one instance of every chain into g, without any
// edges between them, and returns the module tasks in chain order.
func ComposeReplicas(g *dag.Graph, chains []*dag.Graph) ([]*dag.Task, error) {
	replicas := make([]*dag.Task, 0, len(chains))
	for i, chain := range chains {
		t, err := g.Compose(ReplicaTask(i), chain)
		if err != nil {
			return nil, fmt.Errorf("composing replica %d: %w", i, err)
		}
		replicas = append(replicas, t)
	}
	return replicas, nil
}

// BarrierTask is the name of the task gathering all replicas.
const BarrierTask = "barrier"

// GatherBarrier adds a task running fn once every one of replicas has
// completed. Its predecessor count equals len(replicas).
func GatherBarrier(g *dag.Graph, replicas []*dag.Task, fn dag.TaskFunc) (*dag.Task, error) {
	barrier := g.Emplace(BarrierTask, fn)
	if err := barrier.Gather(replicas...); err != nil {
		return nil, fmt.Errorf("gathering %d replicas: %w", len(replicas), err)
	}
	return barrier, nil
}
