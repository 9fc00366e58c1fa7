package types

import "errors"

// Validation errors
var (
	ErrEmptyID   = errors.New("id cannot be empty")
	ErrEmptyText = errors.New("text cannot be empty")
)

// Query is a search topic: an identifier plus its text.
type Query struct {
	ID   string `json:"id" mapstructure:"id"`
	Text string `json:"text" mapstructure:"text"`
}

// Validate checks that the query has the fields required for training.
func (q Query) Validate() error {
	if q.ID == "" {
		return ErrEmptyID
	}
	if q.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Document is a retrievable unit of text.
type Document struct {
	ID   string `json:"id" mapstructure:"id"`
	Text string `json:"text" mapstructure:"text"`
}

// Validate checks that the document has the fields required for training.
func (d Document) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}
	if d.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Triple is one pairwise training instance expressed as identifiers:
// a query, a document assessed relevant to it, and one assessed (or
// assumed) non-relevant.
type Triple struct {
	QueryID    string `json:"query_id"`
	PositiveID string `json:"positive_id"`
	NegativeID string `json:"negative_id"`
}

// ScoredDocument is a document identifier with a retrieval or re-ranking
// score attached. Higher scores rank earlier.
type ScoredDocument struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
