package training

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vk/dnnflow/internal/testutil"
)

// fakeModel records every step it runs as "<model>/<step>@<epoch>".
type fakeModel struct {
	name  string
	rec   *testutil.Recorder
	delay time.Duration
	// forwards counts forward passes; the current epoch is forwards-1.
	forwards atomic.Int32

	// fail, when set, makes the named step return an error.
	fail string
	// hooks run at the start of the named step, before the delay.
	hooks map[string]func(ctx context.Context) error

	validated atomic.Int32
}

func newFakeModel(name string, rec *testutil.Recorder) *fakeModel {
	return &fakeModel{name: name, rec: rec, hooks: map[string]func(context.Context) error{}}
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) run(ctx context.Context, step string, epoch int32) error {
	label := fmt.Sprintf("%s/%s@%d", m.name, step, epoch)
	start := time.Now()
	defer func() { m.rec.Record(label, start, time.Now()) }()

	if hook, ok := m.hooks[step]; ok {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.fail == step {
		return fmt.Errorf("%s: injected failure in %s", m.name, step)
	}
	return nil
}

func (m *fakeModel) Forward(ctx context.Context) error {
	return m.run(ctx, "F", m.forwards.Add(1)-1)
}

func (m *fakeModel) Backward(ctx context.Context, j int) error {
	return m.run(ctx, fmt.Sprintf("B%d", j), m.forwards.Load()-1)
}

func (m *fakeModel) Update(ctx context.Context, j int) error {
	return m.run(ctx, fmt.Sprintf("U%d", j), m.forwards.Load()-1)
}

func (m *fakeModel) Validate(context.Context, []float64, []int) (float64, error) {
	m.validated.Add(1)
	return 0.5, nil
}

// fakeDataset counts shuffles and records each one as "Barrier@<n>".
type fakeDataset struct {
	rec      *testutil.Recorder
	shuffles atomic.Int32
}

func (d *fakeDataset) Test() ([]float64, []int) { return []float64{0}, []int{0} }

func (d *fakeDataset) Shuffle(context.Context) error {
	n := d.shuffles.Add(1)
	now := time.Now()
	d.rec.Record(fmt.Sprintf("Barrier@%d", n-1), now, now)
	return nil
}
