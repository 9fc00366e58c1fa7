// Package sampler produces the pairwise training records consumed by the
// trainer. Samplers separate the deterministic record sequence from a
// small serializable cursor, so a restarted run reattaches exactly where
// it stopped: resume never replays consumed records and never reshuffles.
//
// Record samplers (triple files, in-memory fixtures, model-based hard
// negatives) are adapted to the batch level with Batched; the in-batch
// negatives sampler operates on whole batches directly. A Prefetcher can
// pull records ahead of the training loop without changing emission
// order.
package sampler
