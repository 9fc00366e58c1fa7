package retrieval

import (
	"context"
	"sort"

	"github.com/soundprediction/ordino/pkg/types"
)

// Retriever returns the top-k documents for a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query types.Query, k int) ([]types.ScoredDocument, error)
}

// Reranker scores query/document text pairs. queries and docs are
// parallel slices; the result holds one relevance score per pair. Neural
// scorers satisfy this with their inference path.
type Reranker interface {
	ScoreTexts(ctx context.Context, queries, docs []string) ([]float64, error)
}

// sortRanking orders by descending score, breaking ties on document id
// so rankings are reproducible across runs.
func sortRanking(docs []types.ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
}

func truncate(docs []types.ScoredDocument, k int) []types.ScoredDocument {
	if k > 0 && len(docs) > k {
		return docs[:k]
	}
	return docs
}
