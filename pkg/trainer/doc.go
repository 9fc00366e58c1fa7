// Package trainer drives pairwise training steps: it pulls batches from a
// sampler, scores them, computes a configurable pairwise loss, accumulates
// gradients over sequential micro-batches, and applies one optimizer update
// per batch.
//
// Losses form a closed set selected by name through NewLoss. Gradient
// accumulation is delegated to a Batcher; the adaptive variant halves the
// micro-batch size once when scoring exhausts resources. Reported losses
// are averaged over micro-batches so training dynamics do not depend on the
// accumulation split.
package trainer
