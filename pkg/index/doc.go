// Package index stores the document collection used for training and
// retrieval: a forward index from document identifier to text.
//
// Three implementations cover the usual trade-offs: Memory for tests and
// small collections, Badger for on-disk collections that outgrow memory,
// and Cached to put an LRU layer in front of either. All of them resolve
// missing identifiers to ErrNotFound so callers can distinguish absent
// documents from storage failures.
package index
