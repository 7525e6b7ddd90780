package training

import "context"

// Model is the numeric collaborator whose steps the graph schedules. All
// methods of one model run on at most one worker at a time per buffer; the
// graph's edges provide the ordering.
type Model interface {
	Name() string
	// Forward runs the next batch through the network.
	Forward(ctx context.Context) error
	// Backward computes the gradients of one layer.
	Backward(ctx context.Context, layer int) error
	// Update applies one layer's gradients to its weights.
	Update(ctx context.Context, layer int) error
	// Validate returns the accuracy on the given samples.
	Validate(ctx context.Context, inputs []float64, labels []int) (float64, error)
}

// Dataset is the data shared by every replica.
type Dataset interface {
	// Test returns the held-out split used by the barrier.
	Test() (inputs []float64, labels []int)
	// Shuffle reorders the training split. It runs only inside the barrier.
	Shuffle(ctx context.Context) error
}
