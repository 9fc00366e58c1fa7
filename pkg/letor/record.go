package letor

import "github.com/soundprediction/ordino/pkg/types"

// PairWidth is the number of documents scored per pairwise record: the
// positive followed by its negative.
const PairWidth = 2

// PairwiseRecord is one training instance: a query, a relevant document,
// and a non-relevant document. Records are immutable once produced by a
// sampler.
type PairwiseRecord struct {
	Query    types.Query
	Positive types.Document
	Negative types.Document
}

// Batch is an ordered sequence of pairwise records. Composition is fixed
// at creation; micro-batching slices it without copying.
type Batch []PairwiseRecord

// Texts flattens the batch into parallel query/document slices in scoring
// order: for each record, the positive pair then the negative pair. The
// resulting score vector reshapes row-major into a (len(batch), PairWidth)
// ScoreMatrix.
func (b Batch) Texts() (queries, documents []string) {
	queries = make([]string, 0, len(b)*PairWidth)
	documents = make([]string, 0, len(b)*PairWidth)
	for _, rec := range b {
		queries = append(queries, rec.Query.Text, rec.Query.Text)
		documents = append(documents, rec.Positive.Text, rec.Negative.Text)
	}
	return queries, documents
}
