package training

import (
	"context"
	"fmt"

	"github.com/vk/dnnflow/internal/dag"
)

// Task names inside a training step template.
const (
	ForwardTask = "forward"
)

// BackwardTask returns the name of layer j's backward task.
func BackwardTask(j int) string { return fmt.Sprintf("backward[%d]", j) }

// UpdateTask returns the name of layer j's update task.
func UpdateTask(j int) string { return fmt.Sprintf("update[%d]", j) }

// NewTrainingStep builds the template of one training step of m:
//
//	forward -> backward[L-1] -> ... -> backward[0]
//	backward[j] -> update[j] for every j
//
// The template has 2L+1 tasks and 2L edges. Its entry is forward and its
// exits are the update tasks. Every task closes over m, so the template is
// bound to that one model and reused for each of its epochs.
func NewTrainingStep(name string, m Model, layers int) (*dag.Graph, error) {
	if m == nil {
		return nil, fmt.Errorf("training step %q: nil model", name)
	}
	if layers <= 0 {
		return nil, fmt.Errorf("training step %q: layer count must be positive, got %d", name, layers)
	}

	return dag.MakeTemplate(name, func(g *dag.Graph) error {
		forward := g.Emplace(ForwardTask, m.Forward)

		prev := forward
		for j := layers - 1; j >= 0; j-- {
			backward := g.Emplace(BackwardTask(j), func(ctx context.Context) error {
				return m.Backward(ctx, j)
			})
			update := g.Emplace(UpdateTask(j), func(ctx context.Context) error {
				return m.Update(ctx, j)
			})

			if err := backward.Precede(update); err != nil {
				return err
			}
			if err := prev.Precede(backward); err != nil {
				return err
			}
			prev = backward
		}
		return nil
	})
}
