package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every ConfigurationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError reports a configuration value outside its valid range.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s = %v: %s", ErrInvalidConfig, e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

// Validate checks every field of m and returns all violations joined.
func (m *Model) Validate() error {
	var errs []error
	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, &ConfigurationError{Field: field, Value: v, Reason: "must be greater than zero"})
		}
	}

	t := m.Training
	positive("training.layers", t.Layers)
	positive("training.epochs", t.Epochs)
	positive("training.replicas", t.Replicas)
	positive("training.workers", t.Workers)
	positive("training.runs", t.Runs)
	positive("training.hidden_units", t.HiddenUnits)
	positive("training.batch_size", t.BatchSize)
	if !(t.LearningRate > 0) {
		errs = append(errs, &ConfigurationError{Field: "training.learning_rate", Value: t.LearningRate, Reason: "must be greater than zero"})
	}

	d := m.Dataset
	positive("dataset.samples", d.Samples)
	positive("dataset.features", d.Features)
	positive("dataset.classes", d.Classes)
	if !(d.TestFraction > 0 && d.TestFraction < 1) {
		errs = append(errs, &ConfigurationError{Field: "dataset.test_fraction", Value: d.TestFraction, Reason: "must be between 0 and 1, exclusive"})
	}
	if d.Classes > 0 && d.Samples > 0 {
		test := int(float64(d.Samples) * d.TestFraction)
		if test == 0 || test == d.Samples {
			errs = append(errs, &ConfigurationError{Field: "dataset.samples", Value: d.Samples, Reason: "too few samples for a train/test split"})
		}
	}

	return errors.Join(errs...)
}
