package scorer

import (
	"context"
	"fmt"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

// Scores is the result of one scoring pass: one relevance value per
// (query, document) pair, plus a backward closure when the pass ran in
// training mode.
type Scores struct {
	Values   []float64
	backward func(dScores []float64, auxScale float64)
}

// NewScores wraps values and an optional backward closure.
func NewScores(values []float64, backward func(dScores []float64, auxScale float64)) *Scores {
	return &Scores{Values: values, backward: backward}
}

// Trainable reports whether this pass can backpropagate.
func (s *Scores) Trainable() bool { return s.backward != nil }

// Backward propagates loss gradients into parameter gradients. dScores
// holds the main-loss gradient per score, already scaled for gradient
// accumulation by the caller. auxScale is applied to gradients
// contributed by vector hooks during the forward pass, whose loss terms
// are averaged over micro-batches the same way.
func (s *Scores) Backward(dScores []float64, auxScale float64) error {
	if s.backward == nil {
		return fmt.Errorf("scores were produced in inference mode and cannot backpropagate")
	}
	if len(dScores) != len(s.Values) {
		return fmt.Errorf("gradient length %d does not match %d scores", len(dScores), len(s.Values))
	}
	s.backward(dScores, auxScale)
	return nil
}

// Scorer assigns relevance scores to (query, document) pairs. queries and
// documents are parallel slices, one score per pair.
type Scorer interface {
	// Initialize seeds the model parameters. Must be called once before
	// scoring; repeated calls are no-ops.
	Initialize(rnd *letor.Random) error

	// ScorePairs scores each pair. A non-nil training context switches
	// the pass to training mode: hooks run and the returned Scores can
	// backpropagate.
	ScorePairs(ctx context.Context, queries, documents []string, tc *letor.Context) (*Scores, error)

	// ScoreTexts is the inference path, satisfying retrieval.Reranker.
	ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error)
}

// Trainable is a Scorer with gradient-carrying parameters.
type Trainable interface {
	Scorer
	Parameters() []*nn.Parameter
}

func checkPairs(queries, documents []string) error {
	if len(queries) != len(documents) {
		return fmt.Errorf("got %d queries and %d documents, want parallel slices", len(queries), len(documents))
	}
	return nil
}
