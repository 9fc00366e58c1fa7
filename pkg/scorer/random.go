package scorer

import (
	"context"
	"fmt"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Random is a seeded baseline scorer. Every (query, document) pair maps
// to a stable uniform score in [0, 1), independent of call order, so
// ranking baselines stay reproducible under concurrent scoring.
type Random struct {
	rnd *letor.Random
}

// NewRandom builds the baseline.
func NewRandom() *Random { return &Random{} }

// Initialize implements Scorer.
func (s *Random) Initialize(rnd *letor.Random) error {
	if s.rnd != nil {
		return nil
	}
	if rnd == nil {
		return fmt.Errorf("%w: random scorer initialized without a random source", letor.ErrConfiguration)
	}
	s.rnd = rnd.Derive("random-scorer")
	return nil
}

// ScorePairs implements Scorer. There is nothing to train, so requesting
// a training pass is a configuration error.
func (s *Random) ScorePairs(_ context.Context, queries, documents []string, tc *letor.Context) (*Scores, error) {
	if s.rnd == nil {
		return nil, fmt.Errorf("%w: random scorer used before Initialize", letor.ErrConfiguration)
	}
	if tc != nil {
		return nil, fmt.Errorf("%w: the random baseline has no trainable parameters", letor.ErrConfiguration)
	}
	if err := checkPairs(queries, documents); err != nil {
		return nil, err
	}
	values := make([]float64, len(queries))
	for i := range queries {
		values[i] = s.rnd.Derive(queries[i], documents[i]).Source().Float64()
	}
	return NewScores(values, nil), nil
}

// ScoreTexts implements Scorer (and retrieval.Reranker).
func (s *Random) ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error) {
	scores, err := s.ScorePairs(ctx, queries, documents, nil)
	if err != nil {
		return nil, err
	}
	return scores.Values, nil
}
