// Package letor holds the core learning-to-rank primitives shared by the
// sampling, scoring, and training packages: pairwise training records,
// relevance score matrices, the per-run training context (loss terms,
// metrics, hook registry), seeded randomness, and the error sentinels of
// the training loop.
//
// The package sits at the bottom of the dependency graph so that samplers,
// scorers, and trainers can exchange these types without importing each
// other.
package letor
