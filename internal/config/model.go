package config

import "errors"

// Model is the unified, format-agnostic representation of a pipeline
// configuration.
type Model struct {
	Training Training
	Dataset  Dataset
	Report   Report
}

// Training holds the shape of the task graph and the optimizer knobs.
type Training struct {
	// Layers is L, the number of dense layers per model.
	Layers int
	// Epochs is N, the number of chained training steps per model.
	Epochs int
	// Replicas is M, the number of independently trained models.
	Replicas int
	// Workers is T, the size of the executor's worker pool.
	Workers int
	// Runs is the number of sequential top-level executions of the pipeline.
	Runs int

	HiddenUnits  int
	LearningRate float64
	BatchSize    int
}

// Dataset describes the synthetic classification set.
type Dataset struct {
	Samples      int
	Features     int
	Classes      int
	TestFraction float64
	Seed         uint64
}

// Report configures the optional socket.io progress reporter. An empty URL
// disables reporting.
type Report struct {
	URL       string
	Namespace string
}

// Default returns the configuration used when no file is given.
func Default() *Model {
	return &Model{
		Training: Training{
			Layers:       3,
			Epochs:       10,
			Replicas:     4,
			Workers:      4,
			Runs:         1,
			HiddenUnits:  32,
			LearningRate: 0.05,
			BatchSize:    64,
		},
		Dataset: Dataset{
			Samples:      2000,
			Features:     16,
			Classes:      4,
			TestFraction: 0.2,
			Seed:         42,
		},
		Report: Report{Namespace: "/"},
	}
}

// Overrides carries values set explicitly on the command line. Nil fields
// leave the loaded configuration untouched.
type Overrides struct {
	Layers   *int
	Epochs   *int
	Replicas *int
	Workers  *int
	Runs     *int
}

// Apply copies every set override into m.
func (o Overrides) Apply(m *Model) {
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&m.Training.Layers, o.Layers)
	set(&m.Training.Epochs, o.Epochs)
	set(&m.Training.Replicas, o.Replicas)
	set(&m.Training.Workers, o.Workers)
	set(&m.Training.Runs, o.Runs)
}

// Validate rejects overrides that were set to a non-positive value.
func (o Overrides) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"training.layers", o.Layers},
		{"training.epochs", o.Epochs},
		{"training.replicas", o.Replicas},
		{"training.workers", o.Workers},
		{"training.runs", o.Runs},
	} {
		if f.v != nil && *f.v <= 0 {
			errs = append(errs, &ConfigurationError{Field: f.name, Value: *f.v, Reason: "must be greater than zero"})
		}
	}
	return errors.Join(errs...)
}
