package hcl

import (
	"fmt"

	"github.com/vk/dnnflow/internal/config"
)

// translateTraining merges a decoded training block into the model.
func (l *Loader) translateTraining(b *trainingBlock, t *config.Training) {
	setInt(&t.Layers, b.Layers)
	setInt(&t.Epochs, b.Epochs)
	setInt(&t.Replicas, b.Replicas)
	setInt(&t.Workers, b.Workers)
	setInt(&t.Runs, b.Runs)
	setInt(&t.HiddenUnits, b.HiddenUnits)
	setInt(&t.BatchSize, b.BatchSize)
	if b.LearningRate != nil {
		t.LearningRate = *b.LearningRate
	}
}

// translateDataset merges a decoded dataset block into the model.
func (l *Loader) translateDataset(b *datasetBlock, d *config.Dataset) error {
	setInt(&d.Samples, b.Samples)
	setInt(&d.Features, b.Features)
	setInt(&d.Classes, b.Classes)
	if b.TestFraction != nil {
		d.TestFraction = *b.TestFraction
	}
	if b.Seed != nil {
		if *b.Seed < 0 {
			return &config.ConfigurationError{Field: "dataset.seed", Value: *b.Seed, Reason: "must not be negative"}
		}
		d.Seed = uint64(*b.Seed)
	}
	return nil
}

// translateReport merges a decoded report block into the model.
func (l *Loader) translateReport(b *reportBlock, r *config.Report) {
	if b.URL != nil {
		r.URL = *b.URL
	}
	if b.Namespace != nil {
		r.Namespace = *b.Namespace
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// singleBlock rejects files that repeat a block type.
func singleBlock(file, kind string, n int) error {
	if n > 1 {
		return fmt.Errorf("file %s declares %d %q blocks, at most one is allowed", file, n, kind)
	}
	return nil
}
