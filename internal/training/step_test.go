package training

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dnnflow/internal/dag"
	"github.com/vk/dnnflow/internal/testutil"
)

func runGraph(t *testing.T, g *dag.Graph, workers int) error {
	t.Helper()
	e, err := dag.NewExecutor(workers)
	require.NoError(t, err)
	return e.Run(context.Background(), g)
}

func TestNewTrainingStep_Structure(t *testing.T) {
	for layers := 1; layers <= 6; layers++ {
		t.Run(fmt.Sprintf("L=%d", layers), func(t *testing.T) {
			step, err := NewTrainingStep("step", newFakeModel("m", testutil.NewRecorder()), layers)
			require.NoError(t, err)

			assert.True(t, step.Frozen())
			assert.Equal(t, 2*layers+1, step.Len())
			assert.Len(t, step.Edges(), 2*layers, "L-1 backward links, forward link and L update links")

			forward, ok := step.Task(ForwardTask)
			require.True(t, ok)
			assert.Equal(t, []*dag.Task{forward}, step.Entries())

			exits := step.Exits()
			require.Len(t, exits, layers)
			for j := 0; j < layers; j++ {
				u, ok := step.Task(UpdateTask(j))
				require.True(t, ok)
				assert.Contains(t, exits, u)

				b, ok := step.Task(BackwardTask(j))
				require.True(t, ok)
				assert.Equal(t, []*dag.Task{b}, u.Predecessors())
				if j == layers-1 {
					assert.Equal(t, []*dag.Task{forward}, b.Predecessors())
				} else {
					above, _ := step.Task(BackwardTask(j + 1))
					assert.Equal(t, []*dag.Task{above}, b.Predecessors())
				}
			}
		})
	}
}

func TestNewTrainingStep_NoUpdateToBackwardEdge(t *testing.T) {
	step, err := NewTrainingStep("step", newFakeModel("m", testutil.NewRecorder()), 3)
	require.NoError(t, err)

	for j := 1; j < 3; j++ {
		u, _ := step.Task(UpdateTask(j))
		assert.Empty(t, u.Successors(), "update[%d] gates nothing", j)
		b, _ := step.Task(BackwardTask(j - 1))
		assert.NotContains(t, b.Predecessors(), u)
	}
}

func TestNewTrainingStep_Invalid(t *testing.T) {
	_, err := NewTrainingStep("step", nil, 2)
	assert.Error(t, err)

	_, err = NewTrainingStep("step", newFakeModel("m", testutil.NewRecorder()), 0)
	assert.ErrorContains(t, err, "must be positive")
}

func TestTrainingStep_OrderingHoldsForEverySchedule(t *testing.T) {
	const layers = 4
	for workers := 1; workers <= 4; workers++ {
		for round := 0; round < 5; round++ {
			t.Run(fmt.Sprintf("T=%d/round=%d", workers, round), func(t *testing.T) {
				rec := testutil.NewRecorder()
				m := newFakeModel("m", rec)
				m.delay = time.Millisecond
				step, err := NewTrainingStep("step", m, layers)
				require.NoError(t, err)

				require.NoError(t, runGraph(t, step, workers))

				get := func(name string) testutil.ExecutionRecord {
					r, ok := rec.Get("m/" + name + "@0")
					require.True(t, ok, "%s did not run", name)
					return r
				}
				f := get("F")
				assert.False(t, get(fmt.Sprintf("B%d", layers-1)).Start.Before(f.End))
				for j := layers - 1; j >= 0; j-- {
					b := get(fmt.Sprintf("B%d", j))
					assert.False(t, get(fmt.Sprintf("U%d", j)).Start.Before(b.End), "U%d started before B%d ended", j, j)
					if j > 0 {
						assert.False(t, get(fmt.Sprintf("B%d", j-1)).Start.Before(b.End), "B%d started before B%d ended", j-1, j)
					}
				}
			})
		}
	}
}

func TestTrainingStep_UpdateOverlapsLowerBackward(t *testing.T) {
	// --- Arrange ---
	// update[1] and backward[0] each wait until the other has started. A
	// scheduler that serialized them would make both time out.
	rec := testutil.NewRecorder()
	m := newFakeModel("m", rec)
	uStarted := make(chan struct{})
	bStarted := make(chan struct{})
	rendezvous := func(mine chan struct{}, other <-chan struct{}) func(context.Context) error {
		return func(context.Context) error {
			close(mine)
			select {
			case <-other:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("sibling never started")
			}
		}
	}
	m.hooks["U1"] = rendezvous(uStarted, bStarted)
	m.hooks["B0"] = rendezvous(bStarted, uStarted)

	step, err := NewTrainingStep("step", m, 2)
	require.NoError(t, err)

	// --- Act ---
	err = runGraph(t, step, 2)

	// --- Assert ---
	require.NoError(t, err)
	u, _ := rec.Get("m/U1@0")
	b, _ := rec.Get("m/B0@0")
	assert.True(t, u.Overlaps(b), "update[1] and backward[0] must be able to run concurrently")
}

func TestTrainingStep_FailureStopsDownstream(t *testing.T) {
	rec := testutil.NewRecorder()
	m := newFakeModel("m", rec)
	m.fail = "B1"
	step, err := NewTrainingStep("step", m, 3)
	require.NoError(t, err)

	err = runGraph(t, step, 2)

	var taskErr *dag.TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, BackwardTask(1), taskErr.Task)
	for _, name := range []string{"B0", "U1", "U0"} {
		assert.Equal(t, -1, rec.Index("m/"+name+"@0"), "%s must not run", name)
	}
	assert.NotEqual(t, -1, rec.Index("m/U2@0"), "update[2] only depends on backward[2]")
}
