// Package dataset provides the shared training data of a pipeline: a seeded
// synthetic classification set split into a training part, read by every
// model's forward pass, and a held-out test part used for validation.
package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/ctxlog"
)

// Dataset holds samples as flat row-major matrices. The training split is
// read concurrently by forward passes and rewritten only by Shuffle.
type Dataset struct {
	features int
	classes  int

	trainX []float64
	trainY []int
	testX  []float64
	testY  []int

	rng      *rand.Rand
	shuffles int
}

// New generates cfg.Samples points around one random centre per class and
// splits them into training and test parts.
func New(cfg config.Dataset) (*Dataset, error) {
	if cfg.Samples <= 0 || cfg.Features <= 0 || cfg.Classes <= 0 {
		return nil, fmt.Errorf("dataset needs positive samples, features and classes, got %d/%d/%d",
			cfg.Samples, cfg.Features, cfg.Classes)
	}
	testN := int(float64(cfg.Samples) * cfg.TestFraction)
	if testN <= 0 || testN >= cfg.Samples {
		return nil, fmt.Errorf("test fraction %v leaves an empty split of %d samples", cfg.TestFraction, cfg.Samples)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	centres := make([]float64, cfg.Classes*cfg.Features)
	for i := range centres {
		centres[i] = rng.NormFloat64() * 3
	}

	x := make([]float64, cfg.Samples*cfg.Features)
	y := make([]int, cfg.Samples)
	for s := 0; s < cfg.Samples; s++ {
		label := s % cfg.Classes
		y[s] = label
		for f := 0; f < cfg.Features; f++ {
			x[s*cfg.Features+f] = centres[label*cfg.Features+f] + rng.NormFloat64()
		}
	}

	d := &Dataset{features: cfg.Features, classes: cfg.Classes, rng: rng}
	// Mix classes before splitting so both parts see every label.
	shuffleRows(rng, x, y, cfg.Features)

	trainN := cfg.Samples - testN
	d.trainX, d.trainY = x[:trainN*cfg.Features], y[:trainN]
	d.testX, d.testY = x[trainN*cfg.Features:], y[trainN:]
	return d, nil
}

// Features returns the number of inputs per sample.
func (d *Dataset) Features() int { return d.features }

// Classes returns the number of distinct labels.
func (d *Dataset) Classes() int { return d.classes }

// TrainLen returns the number of training samples.
func (d *Dataset) TrainLen() int { return len(d.trainY) }

// TestLen returns the number of held-out samples.
func (d *Dataset) TestLen() int { return len(d.testY) }

// Shuffles returns how many times Shuffle has run.
func (d *Dataset) Shuffles() int { return d.shuffles }

// NumBatches returns how many batches of the given size the training split
// holds, counting a trailing partial batch.
func (d *Dataset) NumBatches(size int) int {
	if size <= 0 {
		return 0
	}
	return (len(d.trainY) + size - 1) / size
}

// Batch returns views of the i-th training batch, wrapping around once the
// split is exhausted. The returned slices must not be modified.
func (d *Dataset) Batch(i, size int) ([]float64, []int) {
	n := d.NumBatches(size)
	if n == 0 {
		return nil, nil
	}
	start := (i % n) * size
	end := min(start+size, len(d.trainY))
	return d.trainX[start*d.features : end*d.features], d.trainY[start:end]
}

// Test returns the held-out split.
func (d *Dataset) Test() ([]float64, []int) {
	return d.testX, d.testY
}

// Shuffle permutes the training split in place. It must not run while any
// forward pass may be reading a batch.
func (d *Dataset) Shuffle(ctx context.Context) error {
	shuffleRows(d.rng, d.trainX, d.trainY, d.features)
	d.shuffles++
	ctxlog.FromContext(ctx).Debug("Training split shuffled.", "samples", len(d.trainY), "shuffles", d.shuffles)
	return nil
}

func shuffleRows(rng *rand.Rand, x []float64, y []int, width int) {
	rng.Shuffle(len(y), func(i, j int) {
		y[i], y[j] = y[j], y[i]
		ri := x[i*width : (i+1)*width]
		rj := x[j*width : (j+1)*width]
		for k := range ri {
			ri[k], rj[k] = rj[k], ri[k]
		}
	})
}
