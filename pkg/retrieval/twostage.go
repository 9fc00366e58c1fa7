package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

// TwoStageConfig tunes candidate depth and scoring throughput.
type TwoStageConfig struct {
	// Candidates is how many documents the first stage returns for
	// re-ranking. The final ranking is still cut to the caller's k.
	Candidates int
	// BatchSize is the number of pairs scored per call.
	BatchSize int
	// Parallelism bounds concurrent scoring batches.
	Parallelism int
}

func (c *TwoStageConfig) setDefaults() {
	if c.Candidates <= 0 {
		c.Candidates = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
}

// TwoStage retrieves candidates with a cheap first stage and re-orders
// them with a neural scorer. Candidate texts are resolved through the
// document store; a candidate missing from the store aborts retrieval
// since it means the search index and the store have diverged.
type TwoStage struct {
	base     Retriever
	reranker Reranker
	store    index.Store
	cfg      TwoStageConfig
}

// NewTwoStage wires a first stage, a reranker and the document store.
func NewTwoStage(base Retriever, reranker Reranker, store index.Store, cfg TwoStageConfig) (*TwoStage, error) {
	if base == nil || reranker == nil || store == nil {
		return nil, fmt.Errorf("%w: two-stage retrieval requires a base retriever, a reranker and a document store", letor.ErrConfiguration)
	}
	cfg.setDefaults()
	return &TwoStage{base: base, reranker: reranker, store: store, cfg: cfg}, nil
}

// Retrieve implements Retriever.
func (t *TwoStage) Retrieve(ctx context.Context, query types.Query, k int) ([]types.ScoredDocument, error) {
	depth := t.cfg.Candidates
	if k > depth {
		depth = k
	}
	candidates, err := t.base.Retrieve(ctx, query, depth)
	if err != nil {
		return nil, fmt.Errorf("first stage failed for topic %q: %w", query.ID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		doc, err := t.store.Get(ctx, cand.ID)
		if err != nil {
			return nil, fmt.Errorf("candidate for topic %q: %w", query.ID, err)
		}
		texts[i] = doc.Text
	}

	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Parallelism)
	for start := 0; start < len(candidates); start += t.cfg.BatchSize {
		end := start + t.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		start, end := start, end
		g.Go(func() error {
			queries := make([]string, end-start)
			for i := range queries {
				queries[i] = query.Text
			}
			batch, err := t.reranker.ScoreTexts(gctx, queries, texts[start:end])
			if err != nil {
				return fmt.Errorf("re-ranking failed for topic %q: %w", query.ID, err)
			}
			copy(scores[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := make([]types.ScoredDocument, len(candidates))
	for i, cand := range candidates {
		ranked[i] = types.ScoredDocument{ID: cand.ID, Score: scores[i]}
	}
	sortRanking(ranked)
	return truncate(ranked, k), nil
}
