package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/ctxlog"
	"github.com/vk/dnnflow/internal/dag"
)

// PipelineGraph is the name of the top-level graph built by Build.
const PipelineGraph = "pipeline"

// Summary is what the barrier observed at the end of one top-level run.
type Summary struct {
	// Iteration is the zero-based index of the run.
	Iteration int
	// Accuracies holds one validation accuracy per model, in model order.
	Accuracies []float64
	// Elapsed is the time since Pipeline.Run was called.
	Elapsed time.Duration
}

// BarrierHook is called by the barrier after validation and shuffling.
type BarrierHook func(ctx context.Context, s Summary)

// Pipeline is the assembled training graph together with the templates it
// composes.
type Pipeline struct {
	Graph *dag.Graph
	// Steps and Chains hold each model's templates, in model order.
	Steps    []*dag.Graph
	Chains   []*dag.Graph
	Replicas []*dag.Task
	Barrier  *dag.Task

	models  []Model
	dataset Dataset
	hooks   []BarrierHook

	mu        sync.Mutex
	started   time.Time
	summaries []Summary
}

// Build validates cfg and assembles the full pipeline: one step template and
// one chain per model, all chains composed side by side and gathered by the
// barrier. No task is built when the configuration is invalid.
func Build(cfg config.Training, models []Model, ds Dataset, hooks ...BarrierHook) (*Pipeline, error) {
	if err := validateShape(cfg, models); err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("building pipeline: nil dataset")
	}

	p := &Pipeline{
		Graph:   dag.New(PipelineGraph),
		models:  models,
		dataset: ds,
		hooks:   hooks,
	}

	for i, m := range models {
		step, err := NewTrainingStep(fmt.Sprintf("step[%d]", i), m, cfg.Layers)
		if err != nil {
			return nil, err
		}
		chain, err := NewChain(fmt.Sprintf("chain[%d]", i), step, cfg.Epochs)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, step)
		p.Chains = append(p.Chains, chain)
	}

	replicas, err := ComposeReplicas(p.Graph, p.Chains)
	if err != nil {
		return nil, err
	}
	p.Replicas = replicas

	p.Barrier, err = GatherBarrier(p.Graph, replicas, p.validateAndShuffle)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func validateShape(cfg config.Training, models []Model) error {
	checks := []struct {
		field string
		value int
	}{
		{"training.layers", cfg.Layers},
		{"training.epochs", cfg.Epochs},
		{"training.replicas", cfg.Replicas},
		{"training.workers", cfg.Workers},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return &config.ConfigurationError{Field: c.field, Value: c.value, Reason: "must be greater than zero"}
		}
	}
	if len(models) != cfg.Replicas {
		return &config.ConfigurationError{
			Field:  "training.replicas",
			Value:  cfg.Replicas,
			Reason: fmt.Sprintf("%d models supplied", len(models)),
		}
	}
	for i, m := range models {
		if m == nil {
			return fmt.Errorf("building pipeline: model %d is nil", i)
		}
	}
	return nil
}

// Run executes the pipeline runs times in sequence on e and waits for it.
func (p *Pipeline) Run(ctx context.Context, e *dag.Executor, runs int) error {
	return p.Start(ctx, e, runs).Wait()
}

// Start submits runs sequential executions of the pipeline to e and returns
// without waiting.
func (p *Pipeline) Start(ctx context.Context, e *dag.Executor, runs int) *dag.Future {
	p.mu.Lock()
	p.started = time.Now()
	p.mu.Unlock()
	return e.Submit(ctx, p.Graph, runs)
}

// Summaries returns what every completed barrier observed.
func (p *Pipeline) Summaries() []Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Summary, len(p.summaries))
	copy(out, p.summaries)
	return out
}

// validateAndShuffle is the barrier body: validate every model in order,
// reshuffle the training data, then report the elapsed time.
func (p *Pipeline) validateAndShuffle(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	inputs, labels := p.dataset.Test()

	accuracies := make([]float64, len(p.models))
	for i, m := range p.models {
		acc, err := m.Validate(ctx, inputs, labels)
		if err != nil {
			return fmt.Errorf("validating model %d (%s): %w", i, m.Name(), err)
		}
		accuracies[i] = acc
		logger.Info("Validated model.", "model", i, "name", m.Name(), "accuracy", acc)
	}

	if err := p.dataset.Shuffle(ctx); err != nil {
		return fmt.Errorf("shuffling dataset: %w", err)
	}

	p.mu.Lock()
	s := Summary{Iteration: len(p.summaries), Accuracies: accuracies, Elapsed: time.Since(p.started)}
	p.summaries = append(p.summaries, s)
	p.mu.Unlock()

	logger.Info("Barrier complete.", "iteration", s.Iteration, "elapsed", s.Elapsed)
	for _, hook := range p.hooks {
		hook(ctx, s)
	}
	return nil
}
