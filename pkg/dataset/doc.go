// Package dataset reads the standard ad-hoc retrieval file formats:
// topic files (query id and text separated by a tab), TREC qrels and
// pre-built triple files of query, positive and negative identifiers.
// Files ending in .gz are decompressed transparently.
package dataset
