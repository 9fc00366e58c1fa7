// Package scorer holds the relevance models: a cross-encoder scoring
// (query, document) pairs jointly, a dual encoder comparing independent
// query/document vectors, a seeded random baseline and an OpenAI-backed
// reranker for inference-only pipelines.
//
// Scoring in training mode returns Scores carrying a backward closure;
// inference callers pass a nil training context and only read the values.
// Dual scorers run registered vector hooks (such as the FLOPS
// regularizer) exactly once per call.
package scorer
