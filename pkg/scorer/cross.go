package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/soundprediction/ordino/pkg/encoder"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

// separator joins query and document for joint encoding.
const separator = " [SEP] "

// CrossConfig sizes the cross-encoder.
type CrossConfig struct {
	// VocabSize is the hashed vocabulary size of the joint encoder.
	VocabSize int
	// Dim is the embedding dimension.
	Dim int
	// Hidden is the width of the hidden layer above the embedding.
	Hidden int
}

func (c *CrossConfig) setDefaults() {
	if c.VocabSize <= 0 {
		c.VocabSize = 65536
	}
	if c.Dim <= 0 {
		c.Dim = 64
	}
	if c.Hidden <= 0 {
		c.Hidden = 32
	}
}

// Cross scores a pair by encoding "query [SEP] document" as one bag of
// embeddings and passing the pooled vector through a small feed-forward
// head: tanh hidden layer, then a linear score.
type Cross struct {
	cfg   CrossConfig
	embed *encoder.Bag
	w1    *nn.Parameter
	b1    *nn.Parameter
	w2    *nn.Parameter
	b2    *nn.Parameter
}

// NewCross builds an uninitialized cross-encoder.
func NewCross(cfg CrossConfig) (*Cross, error) {
	cfg.setDefaults()
	tok, err := encoder.NewTokenizer(cfg.VocabSize)
	if err != nil {
		return nil, err
	}
	embed, err := encoder.NewBag("cross.joint", tok, cfg.Dim)
	if err != nil {
		return nil, err
	}
	return &Cross{cfg: cfg, embed: embed}, nil
}

// Initialize implements Scorer.
func (s *Cross) Initialize(rnd *letor.Random) error {
	if s.w1 != nil {
		return nil
	}
	if rnd == nil {
		return fmt.Errorf("%w: cross-encoder initialized without a random source", letor.ErrConfiguration)
	}
	if err := s.embed.Initialize(rnd); err != nil {
		return err
	}
	src := rnd.Derive("cross.head").Source()
	s.w1 = nn.NewParameter("cross.w1", s.cfg.Hidden, s.cfg.Dim)
	s.b1 = nn.NewParameter("cross.b1", 1, s.cfg.Hidden)
	s.w2 = nn.NewParameter("cross.w2", 1, s.cfg.Hidden)
	s.b2 = nn.NewParameter("cross.b2", 1, 1)
	nn.GlorotInit(s.w1, src)
	nn.GlorotInit(s.w2, src)
	return nil
}

// ScorePairs implements Scorer.
func (s *Cross) ScorePairs(_ context.Context, queries, documents []string, tc *letor.Context) (*Scores, error) {
	if s.w1 == nil {
		return nil, fmt.Errorf("%w: cross-encoder used before Initialize", letor.ErrConfiguration)
	}
	if err := checkPairs(queries, documents); err != nil {
		return nil, err
	}

	joint := make([]string, len(queries))
	for i := range queries {
		joint[i] = queries[i] + separator + documents[i]
	}
	vectors, encBack, err := s.embed.Encode(joint)
	if err != nil {
		return nil, err
	}

	hidden := make([][]float64, len(joint))
	values := make([]float64, len(joint))
	for i, vec := range vectors {
		h := make([]float64, s.cfg.Hidden)
		for j := 0; j < s.cfg.Hidden; j++ {
			h[j] = math.Tanh(nn.Dot(s.w1.Row(j), vec) + s.b1.Data[j])
		}
		hidden[i] = h
		values[i] = nn.Dot(s.w2.Data, h) + s.b2.Data[0]
	}

	if tc == nil {
		return NewScores(values, nil), nil
	}

	backward := func(dScores []float64, _ float64) {
		dVecs := make([][]float64, len(vectors))
		for i, ds := range dScores {
			h := hidden[i]
			dVec := make([]float64, s.cfg.Dim)
			for j := 0; j < s.cfg.Hidden; j++ {
				s.w2.Grad[j] += ds * h[j]
				dPre := ds * s.w2.Data[j] * (1 - h[j]*h[j])
				s.b1.Grad[j] += dPre
				nn.Axpy(dPre, vectors[i], s.w1.GradRow(j))
				nn.Axpy(dPre, s.w1.Row(j), dVec)
			}
			s.b2.Grad[0] += ds
			dVecs[i] = dVec
		}
		encBack(dVecs)
	}
	return NewScores(values, backward), nil
}

// ScoreTexts implements Scorer (and retrieval.Reranker).
func (s *Cross) ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error) {
	scores, err := s.ScorePairs(ctx, queries, documents, nil)
	if err != nil {
		return nil, err
	}
	return scores.Values, nil
}

// Parameters implements Trainable.
func (s *Cross) Parameters() []*nn.Parameter {
	if s.w1 == nil {
		return nil
	}
	params := s.embed.Parameters()
	return append(params, s.w1, s.b1, s.w2, s.b2)
}
