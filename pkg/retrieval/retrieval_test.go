package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/types"
)

// overlapReranker scores a pair by the number of query terms contained in
// the document text. Deterministic and easy to reason about in tests.
type overlapReranker struct{}

func (overlapReranker) ScoreTexts(_ context.Context, queries, docs []string) ([]float64, error) {
	scores := make([]float64, len(queries))
	for i := range queries {
		for _, term := range strings.Fields(strings.ToLower(queries[i])) {
			if strings.Contains(strings.ToLower(docs[i]), term) {
				scores[i]++
			}
		}
	}
	return scores, nil
}

type fixedRetriever struct {
	docs []types.ScoredDocument
}

func (f fixedRetriever) Retrieve(context.Context, types.Query, int) ([]types.ScoredDocument, error) {
	return f.docs, nil
}

func corpusStore(t *testing.T) index.Store {
	t.Helper()
	store := index.NewMemory()
	docs := []types.Document{
		{ID: "d1", Text: "neural ranking with deep models"},
		{ID: "d2", Text: "cooking pasta at home"},
		{ID: "d3", Text: "ranking documents for search with neural scoring"},
		{ID: "d4", Text: "gardening in the winter"},
	}
	require.NoError(t, store.PutBatch(context.Background(), docs))
	return store
}

func TestBleveRetriever(t *testing.T) {
	ctx := context.Background()
	store := corpusStore(t)

	bleve, err := BuildBleve(ctx, "", store, nil)
	require.NoError(t, err)
	defer bleve.Close()

	n, err := bleve.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	hits, err := bleve.Retrieve(ctx, types.Query{ID: "q1", Text: "neural ranking"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	assert.Contains(t, ids, "d1")
	assert.Contains(t, ids, "d3")
	assert.NotContains(t, ids, "d4")

	_, err = bleve.Retrieve(ctx, types.Query{ID: "q1", Text: "neural"}, 0)
	assert.Error(t, err)
}

func TestTwoStage(t *testing.T) {
	ctx := context.Background()
	store := corpusStore(t)

	base := fixedRetriever{docs: []types.ScoredDocument{
		{ID: "d2", Score: 3},
		{ID: "d1", Score: 2},
		{ID: "d3", Score: 1},
	}}

	t.Run("reranker reorders candidates", func(t *testing.T) {
		ts, err := NewTwoStage(base, overlapReranker{}, store, TwoStageConfig{BatchSize: 2})
		require.NoError(t, err)

		ranked, err := ts.Retrieve(ctx, types.Query{ID: "q1", Text: "neural ranking search"}, 3)
		require.NoError(t, err)
		require.Len(t, ranked, 3)
		assert.Equal(t, "d3", ranked[0].ID, "d3 matches three query terms")
		assert.Equal(t, "d1", ranked[1].ID)
		assert.Equal(t, "d2", ranked[2].ID)
	})

	t.Run("parallel scoring matches sequential", func(t *testing.T) {
		seq, err := NewTwoStage(base, overlapReranker{}, store, TwoStageConfig{BatchSize: 1, Parallelism: 1})
		require.NoError(t, err)
		par, err := NewTwoStage(base, overlapReranker{}, store, TwoStageConfig{BatchSize: 1, Parallelism: 4})
		require.NoError(t, err)

		query := types.Query{ID: "q1", Text: "neural ranking search"}
		a, err := seq.Retrieve(ctx, query, 3)
		require.NoError(t, err)
		b, err := par.Retrieve(ctx, query, 3)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("truncates to k", func(t *testing.T) {
		ts, err := NewTwoStage(base, overlapReranker{}, store, TwoStageConfig{})
		require.NoError(t, err)

		ranked, err := ts.Retrieve(ctx, types.Query{ID: "q1", Text: "neural"}, 1)
		require.NoError(t, err)
		assert.Len(t, ranked, 1)
	})

	t.Run("missing candidate document is fatal", func(t *testing.T) {
		stale := fixedRetriever{docs: []types.ScoredDocument{{ID: "gone", Score: 1}}}
		ts, err := NewTwoStage(stale, overlapReranker{}, store, TwoStageConfig{})
		require.NoError(t, err)

		_, err = ts.Retrieve(ctx, types.Query{ID: "q1", Text: "neural"}, 3)
		require.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("rejects missing collaborators", func(t *testing.T) {
		_, err := NewTwoStage(nil, overlapReranker{}, store, TwoStageConfig{})
		require.Error(t, err)
	})
}

func TestFullRescorer(t *testing.T) {
	ctx := context.Background()
	store := corpusStore(t)

	rescorer, err := NewFullRescorer(overlapReranker{}, store, 3)
	require.NoError(t, err)

	ranked, err := rescorer.Retrieve(ctx, types.Query{ID: "q1", Text: "neural ranking search"}, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "d3", ranked[0].ID)
	assert.Equal(t, "d1", ranked[1].ID)

	t.Run("ties break on document id", func(t *testing.T) {
		ranked, err := rescorer.Retrieve(ctx, types.Query{ID: "q2", Text: "zzz"}, 4)
		require.NoError(t, err)
		require.Len(t, ranked, 4)
		assert.Equal(t, []string{"d1", "d2", "d3", "d4"},
			[]string{ranked[0].ID, ranked[1].ID, ranked[2].ID, ranked[3].ID})
	})
}
