package retrieval

import (
	"context"
	"fmt"

	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

// FullRescorer scores a query against every document in the store. It is
// the retriever of last resort for collections small enough to scan, and
// the reference against which two-stage rankings are checked in tests.
type FullRescorer struct {
	reranker  Reranker
	store     index.Store
	batchSize int
}

// NewFullRescorer builds a rescorer scoring batchSize pairs per call.
func NewFullRescorer(reranker Reranker, store index.Store, batchSize int) (*FullRescorer, error) {
	if reranker == nil || store == nil {
		return nil, fmt.Errorf("%w: full rescoring requires a reranker and a document store", letor.ErrConfiguration)
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &FullRescorer{reranker: reranker, store: store, batchSize: batchSize}, nil
}

// Retrieve implements Retriever by scanning the whole collection.
func (f *FullRescorer) Retrieve(ctx context.Context, query types.Query, k int) ([]types.ScoredDocument, error) {
	var (
		ranked  []types.ScoredDocument
		ids     []string
		texts   []string
		queries []string
	)

	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		scores, err := f.reranker.ScoreTexts(ctx, queries[:len(ids)], texts)
		if err != nil {
			return fmt.Errorf("rescoring failed for topic %q: %w", query.ID, err)
		}
		for i, id := range ids {
			ranked = append(ranked, types.ScoredDocument{ID: id, Score: scores[i]})
		}
		ids = ids[:0]
		texts = texts[:0]
		return nil
	}

	for i := 0; i < f.batchSize; i++ {
		queries = append(queries, query.Text)
	}
	err := f.store.Iterate(ctx, func(doc types.Document) error {
		ids = append(ids, doc.ID)
		texts = append(texts, doc.Text)
		if len(ids) >= f.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	sortRanking(ranked)
	return truncate(ranked, k), nil
}
