// Package mlp is a small dense network used as the model collaborator of the
// training pipeline. Each layer's forward, backward and update step is
// exposed separately so the task graph decides how they interleave.
//
// Buffer ownership follows the pipeline's edges: Backward(j) reads W_j and
// writes the gradients of layer j plus the error signal of layer j-1, and
// Update(j) writes only W_j and b_j. Update(j) may therefore run at the same
// time as Backward(j-1).
package mlp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/ctxlog"
)

var (
	// ErrNoForwardPass is returned when a backward step runs before any forward pass.
	ErrNoForwardPass = errors.New("no forward pass recorded")
	// ErrDiverged is returned when the training loss stops being finite.
	ErrDiverged = errors.New("training diverged")
)

// Source supplies training batches.
type Source interface {
	Features() int
	Classes() int
	Batch(i, size int) ([]float64, []int)
}

// Network is a fully connected ReLU network with a softmax output layer.
type Network struct {
	name  string
	src   Source
	sizes []int

	weights [][]float64
	biases  [][]float64
	gradW   [][]float64
	gradB   [][]float64
	// acts[j] is the output of layer j for the current batch.
	acts [][]float64
	// deltas[j] is the loss gradient with respect to layer j's pre-activation.
	deltas [][]float64

	input  []float64
	rows   int
	cursor int

	learningRate float64
	batchSize    int
	loss         float64
	steps        int
}

// New builds a network with cfg.Layers dense layers between the source's
// features and classes. seed fixes the initial weights.
func New(name string, cfg config.Training, src Source, seed uint64) (*Network, error) {
	if cfg.Layers <= 0 || cfg.HiddenUnits <= 0 || cfg.BatchSize <= 0 || !(cfg.LearningRate > 0) {
		return nil, fmt.Errorf("network %q: invalid shape layers=%d hidden=%d batch=%d lr=%v",
			name, cfg.Layers, cfg.HiddenUnits, cfg.BatchSize, cfg.LearningRate)
	}

	sizes := make([]int, cfg.Layers+1)
	sizes[0] = src.Features()
	for j := 1; j < cfg.Layers; j++ {
		sizes[j] = cfg.HiddenUnits
	}
	sizes[cfg.Layers] = src.Classes()

	n := &Network{
		name:         name,
		src:          src,
		sizes:        sizes,
		learningRate: cfg.LearningRate,
		batchSize:    cfg.BatchSize,
	}

	rng := rand.New(rand.NewPCG(seed, seed+1))
	for j := 0; j < cfg.Layers; j++ {
		in, out := sizes[j], sizes[j+1]
		limit := math.Sqrt(6 / float64(in+out))
		w := make([]float64, out*in)
		for i := range w {
			w[i] = (rng.Float64()*2 - 1) * limit
		}
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, make([]float64, out))
		n.gradW = append(n.gradW, make([]float64, out*in))
		n.gradB = append(n.gradB, make([]float64, out))
	}
	n.acts = make([][]float64, cfg.Layers)
	n.deltas = make([][]float64, cfg.Layers)
	return n, nil
}

// Name returns the network's label.
func (n *Network) Name() string { return n.name }

// Layers returns the number of dense layers.
func (n *Network) Layers() int { return len(n.weights) }

// Loss returns the cross-entropy of the last forward pass.
func (n *Network) Loss() float64 { return n.loss }

// Steps returns how many forward passes have run.
func (n *Network) Steps() int { return n.steps }

// Forward runs the next training batch through every layer and seeds the
// output layer's error signal from the labels.
func (n *Network) Forward(ctx context.Context) error {
	x, y := n.src.Batch(n.cursor, n.batchSize)
	if len(y) == 0 {
		return fmt.Errorf("network %q: empty training batch", n.name)
	}
	n.cursor++
	n.steps++
	n.input, n.rows = x, len(y)

	in := x
	last := n.Layers() - 1
	for j := 0; j <= last; j++ {
		n.acts[j] = n.layerForward(j, in, n.rows, n.acts[j], j < last)
		in = n.acts[j]
	}

	out := n.acts[last]
	classes := n.sizes[last+1]
	n.deltas[last] = resize(n.deltas[last], n.rows*classes)
	loss := 0.0
	for b := 0; b < n.rows; b++ {
		row := out[b*classes : (b+1)*classes]
		softmax(row)
		loss -= math.Log(math.Max(row[y[b]], 1e-12))
		for c := range row {
			g := row[c]
			if c == y[b] {
				g--
			}
			n.deltas[last][b*classes+c] = g / float64(n.rows)
		}
	}
	n.loss = loss / float64(n.rows)
	if math.IsNaN(n.loss) || math.IsInf(n.loss, 0) {
		return fmt.Errorf("network %q at step %d: %w", n.name, n.steps, ErrDiverged)
	}

	ctxlog.FromContext(ctx).Debug("Forward pass complete.", "model", n.name, "loss", n.loss, "rows", n.rows)
	return nil
}

// Backward computes the gradients of layer j and, for j > 0, the error
// signal of layer j-1.
func (n *Network) Backward(_ context.Context, j int) error {
	if err := n.checkLayer(j); err != nil {
		return err
	}
	if n.rows == 0 {
		return fmt.Errorf("network %q backward[%d]: %w", n.name, j, ErrNoForwardPass)
	}

	in := n.input
	if j > 0 {
		in = n.acts[j-1]
	}
	inSize, outSize := n.sizes[j], n.sizes[j+1]
	delta := n.deltas[j]
	gw, gb := n.gradW[j], n.gradB[j]
	clear(gw)
	clear(gb)

	for b := 0; b < n.rows; b++ {
		d := delta[b*outSize : (b+1)*outSize]
		x := in[b*inSize : (b+1)*inSize]
		for o, dv := range d {
			gb[o] += dv
			row := gw[o*inSize : (o+1)*inSize]
			for i, xv := range x {
				row[i] += dv * xv
			}
		}
	}

	if j == 0 {
		return nil
	}
	w := n.weights[j]
	prev := n.acts[j-1]
	n.deltas[j-1] = resize(n.deltas[j-1], n.rows*inSize)
	next := n.deltas[j-1]
	for b := 0; b < n.rows; b++ {
		d := delta[b*outSize : (b+1)*outSize]
		for i := 0; i < inSize; i++ {
			idx := b*inSize + i
			if prev[idx] <= 0 {
				next[idx] = 0
				continue
			}
			sum := 0.0
			for o, dv := range d {
				sum += dv * w[o*inSize+i]
			}
			next[idx] = sum
		}
	}
	return nil
}

// Update applies one SGD step to layer j.
func (n *Network) Update(_ context.Context, j int) error {
	if err := n.checkLayer(j); err != nil {
		return err
	}
	w, b := n.weights[j], n.biases[j]
	for i, g := range n.gradW[j] {
		w[i] -= n.learningRate * g
	}
	for i, g := range n.gradB[j] {
		b[i] -= n.learningRate * g
	}
	return nil
}

// Validate returns the classification accuracy on the given samples. It
// uses its own buffers and leaves the training state untouched.
func (n *Network) Validate(ctx context.Context, inputs []float64, labels []int) (float64, error) {
	rows := len(labels)
	if rows == 0 || len(inputs) != rows*n.sizes[0] {
		return 0, fmt.Errorf("network %q: %d inputs do not match %d labels of width %d",
			n.name, len(inputs), rows, n.sizes[0])
	}

	in := inputs
	last := n.Layers() - 1
	for j := 0; j <= last; j++ {
		in = n.layerForward(j, in, rows, nil, j < last)
	}

	classes := n.sizes[last+1]
	correct := 0
	for b := 0; b < rows; b++ {
		if argmax(in[b*classes:(b+1)*classes]) == labels[b] {
			correct++
		}
	}
	acc := float64(correct) / float64(rows)
	ctxlog.FromContext(ctx).Debug("Validation complete.", "model", n.name, "accuracy", acc)
	return acc, nil
}

// layerForward computes layer j for rows inputs into dst, reusing its storage.
func (n *Network) layerForward(j int, in []float64, rows int, dst []float64, relu bool) []float64 {
	inSize, outSize := n.sizes[j], n.sizes[j+1]
	w, bias := n.weights[j], n.biases[j]
	dst = resize(dst, rows*outSize)
	for b := 0; b < rows; b++ {
		x := in[b*inSize : (b+1)*inSize]
		for o := 0; o < outSize; o++ {
			sum := bias[o]
			row := w[o*inSize : (o+1)*inSize]
			for i, xv := range x {
				sum += row[i] * xv
			}
			if relu && sum < 0 {
				sum = 0
			}
			dst[b*outSize+o] = sum
		}
	}
	return dst
}

func (n *Network) checkLayer(j int) error {
	if j < 0 || j >= n.Layers() {
		return fmt.Errorf("network %q: layer %d out of range [0, %d)", n.name, j, n.Layers())
	}
	return nil
}

func resize(buf []float64, size int) []float64 {
	if cap(buf) < size {
		return make([]float64, size)
	}
	return buf[:size]
}

func softmax(row []float64) {
	peak := row[argmax(row)]
	sum := 0.0
	for i, v := range row {
		row[i] = math.Exp(v - peak)
		sum += row[i]
	}
	for i := range row {
		row[i] /= sum
	}
}

func argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
