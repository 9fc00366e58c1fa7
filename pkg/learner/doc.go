// Package learner owns a training run: the epoch loop over trainer steps,
// per-epoch listeners, metric reporting, and checkpointing.
//
// A run checkpoints after every epoch: model parameters, optimizer state,
// the sampler cursor, and listener bookkeeping land in an epoch directory,
// committed by an atomically renamed latest pointer. Restarting a run
// restores all of it and continues from the next unexecuted epoch, so a
// crash costs at most one epoch of work and never replays a completed one.
//
// The Validation listener re-ranks a held-out topic set on a fixed epoch
// interval, reports the configured measures, and retains the best
// parameter snapshot per monitored measure. Downstream evaluation obtains
// the selected model through GetScorer rather than using final-epoch
// weights.
package learner
