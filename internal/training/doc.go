// Package training expresses data-parallel network training as a dag task
// graph.
//
// One training step of a model with L layers is a template: a forward task,
// a reverse chain of per-layer backward tasks and one update task per layer
// hanging off its backward task. Each model chains N instances of its step
// template, one per epoch. M such chains run side by side inside a single
// pipeline graph, and a barrier task gathers all of them to validate every
// model and reshuffle the shared data once training has finished.
//
// Update tasks are deliberately unordered with respect to the backward task
// of the layer below and to each other, so update[j] and backward[j-1] may
// run at the same time. Models must keep the weights of different layers in
// separate buffers for this to be safe.
package training
