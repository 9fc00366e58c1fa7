// Package types defines the value types shared across the ordino packages:
// queries, documents, training triples, and scored retrieval results.
//
// These types are plain data carriers. Behavior lives in the packages that
// produce or consume them (pkg/index, pkg/sampler, pkg/retrieval).
package types
