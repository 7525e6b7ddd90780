package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vk/dnnflow/internal/ctxlog"
	"github.com/vk/dnnflow/internal/dag"
	"github.com/vk/dnnflow/internal/dataset"
	"github.com/vk/dnnflow/internal/mlp"
	"github.com/vk/dnnflow/internal/report"
	"github.com/vk/dnnflow/internal/training"
)

// Run builds the dataset, the models and the pipeline graph, then executes
// the graph the configured number of times.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	cfg := a.model
	ds, err := dataset.New(cfg.Dataset)
	if err != nil {
		return fmt.Errorf("failed to build dataset: %w", err)
	}
	a.logger.Info("Dataset ready.", "train", ds.TrainLen(), "test", ds.TestLen(), "features", ds.Features(), "classes", ds.Classes())

	nets := make([]*mlp.Network, cfg.Training.Replicas)
	models := make([]training.Model, cfg.Training.Replicas)
	for i := range models {
		net, err := mlp.New(fmt.Sprintf("model-%d", i), cfg.Training, ds, cfg.Dataset.Seed+uint64(i)+1)
		if err != nil {
			return fmt.Errorf("failed to build model %d: %w", i, err)
		}
		nets[i] = net
		models[i] = net
	}

	var (
		hooks []training.BarrierHook
		opts  []dag.ExecutorOption
	)
	reporter := a.connectReporter(ctx)
	if reporter != nil {
		defer reporter.Close()
		hooks = append(hooks, reporter.Barrier)
		opts = append(opts, dag.WithObserver(reporter))
	}

	a.logger.Debug("Building pipeline graph...")
	pipeline, err := training.Build(cfg.Training, models, ds, hooks...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	a.logger.Info("Pipeline graph built.",
		"layers", cfg.Training.Layers,
		"epochs", cfg.Training.Epochs,
		"models", cfg.Training.Replicas,
		"tasks_per_run", cfg.Training.Replicas*cfg.Training.Epochs*(2*cfg.Training.Layers+1)+1,
	)

	if err := a.dump(pipeline.Graph); err != nil {
		return err
	}
	if a.appConfig.DryRun {
		a.logger.Info("Dry run requested, execution skipped.")
		return nil
	}

	exec, err := dag.NewExecutor(cfg.Training.Workers, opts...)
	if err != nil {
		return err
	}

	a.logger.Info("🚀 Starting concurrent execution...", "workers", cfg.Training.Workers, "runs", cfg.Training.Runs)
	future := pipeline.Start(ctx, exec, cfg.Training.Runs)
	a.mu.Lock()
	a.future = future
	a.mu.Unlock()

	runErr := future.Wait()
	a.mu.Lock()
	a.lastErr = runErr
	a.mu.Unlock()
	if reporter != nil {
		reporter.RunFinished(future.ID(), future.State(), runErr)
	}
	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}

	for i, net := range nets {
		a.logger.Info("Model trained.", "model", i, "steps", net.Steps(), "loss", net.Loss())
	}
	if s := pipeline.Summaries(); len(s) > 0 {
		last := s[len(s)-1]
		a.logger.Info("🏁 Execution finished.", "runs", len(s), "accuracies", last.Accuracies, "elapsed", last.Elapsed)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// connectReporter dials the progress reporter when one is configured. A
// reporter that cannot connect is logged and skipped.
func (a *App) connectReporter(ctx context.Context) *report.Reporter {
	if a.model.Report.URL == "" {
		return nil
	}
	reporter, err := report.Dial(ctx, a.model.Report)
	if err != nil {
		a.logger.Warn("Progress reporter unavailable, continuing without it.", "error", err)
		return nil
	}
	return reporter
}

// dump writes the graph description to the configured destination.
func (a *App) dump(g *dag.Graph) error {
	switch a.appConfig.DumpPath {
	case "":
		return nil
	case "-":
		return a.writeDump(a.outW, g)
	}

	f, err := os.Create(a.appConfig.DumpPath)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	if err := a.writeDump(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *App) writeDump(w io.Writer, g *dag.Graph) error {
	if err := g.Dump(w); err != nil {
		return fmt.Errorf("failed to dump graph: %w", err)
	}
	a.logger.Debug("Graph dump written.", "destination", a.appConfig.DumpPath)
	return nil
}
