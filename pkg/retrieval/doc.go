// Package retrieval produces ranked document lists for queries. A bleve
// index provides the lexical first stage; TwoStage re-ranks its
// candidates with a neural scorer and FullRescorer scores a query against
// the whole collection when no first stage exists.
package retrieval
