package scorer

import (
	"context"
	"fmt"

	"github.com/soundprediction/ordino/pkg/encoder"
	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
	"github.com/soundprediction/ordino/pkg/retrieval"
)

// Similarity selects how a dual scorer combines query and document
// vectors.
type Similarity string

const (
	// SimilarityDot scores with the raw inner product.
	SimilarityDot Similarity = "dot"
	// SimilarityCosine L2-normalizes both vectors before the product.
	SimilarityCosine Similarity = "cosine"
)

// Dual scores pairs by encoding queries and documents independently and
// combining the vectors with a fixed similarity. Both encoders must be
// learnable: a frozen encoder cannot improve with training, so passing
// one is rejected at construction rather than discovered epochs later.
type Dual struct {
	docEnc   encoder.Text
	queryEnc encoder.Text
	sim      Similarity
}

// NewDual builds a dual scorer. queryEnc may be nil (or the same encoder)
// to share docEnc for both sides.
func NewDual(docEnc, queryEnc encoder.Text, sim Similarity) (*Dual, error) {
	if docEnc == nil {
		return nil, fmt.Errorf("%w: dual scorer requires a document encoder", letor.ErrConfiguration)
	}
	if docEnc.Static() {
		return nil, fmt.Errorf("%w: document encoder is frozen, a dual scorer cannot learn through it", letor.ErrConfiguration)
	}
	if queryEnc == docEnc {
		queryEnc = nil
	}
	if queryEnc != nil && queryEnc.Static() {
		return nil, fmt.Errorf("%w: query encoder is frozen, a dual scorer cannot learn through it", letor.ErrConfiguration)
	}
	switch sim {
	case SimilarityDot, SimilarityCosine:
	default:
		return nil, fmt.Errorf("%w: unknown similarity %q", letor.ErrConfiguration, sim)
	}
	return &Dual{docEnc: docEnc, queryEnc: queryEnc, sim: sim}, nil
}

// Initialize implements Scorer.
func (s *Dual) Initialize(rnd *letor.Random) error {
	if err := s.docEnc.Initialize(rnd); err != nil {
		return err
	}
	if s.queryEnc != nil {
		return s.queryEnc.Initialize(rnd)
	}
	return nil
}

func (s *Dual) queryEncoder() encoder.Text {
	if s.queryEnc != nil {
		return s.queryEnc
	}
	return s.docEnc
}

// encode embeds texts, normalizing when the similarity is cosine. The
// returned closure routes vector gradients back through the
// normalization into the encoder.
func (s *Dual) encode(enc encoder.Text, texts []string) ([][]float64, func([][]float64), error) {
	raw, rawBack, err := enc.Encode(texts)
	if err != nil {
		return nil, nil, err
	}
	if s.sim == SimilarityDot {
		back := func(dVecs [][]float64) {
			if rawBack != nil {
				rawBack(dVecs)
			}
		}
		return raw, back, nil
	}

	norms := make([]float64, len(raw))
	unit := make([][]float64, len(raw))
	for i, vec := range raw {
		norms[i] = nn.Norm(vec)
		out := make([]float64, len(vec))
		if norms[i] > 0 {
			copy(out, vec)
			nn.Scale(1/norms[i], out)
		}
		unit[i] = out
	}
	back := func(dVecs [][]float64) {
		if rawBack == nil {
			return
		}
		dRaw := make([][]float64, len(dVecs))
		for i, dv := range dVecs {
			out := make([]float64, len(dv))
			if norms[i] > 0 {
				proj := nn.Dot(dv, unit[i])
				for k := range dv {
					out[k] = (dv[k] - proj*unit[i][k]) / norms[i]
				}
			}
			dRaw[i] = out
		}
		rawBack(dRaw)
	}
	return unit, back, nil
}

// ScorePairs implements Scorer. In training mode the registered
// dual-vector hooks run exactly once, after scores are computed and
// before they are returned, seeing the same vectors the similarity saw.
func (s *Dual) ScorePairs(_ context.Context, queries, documents []string, tc *letor.Context) (*Scores, error) {
	if err := checkPairs(queries, documents); err != nil {
		return nil, err
	}

	qVecs, qBack, err := s.encode(s.queryEncoder(), queries)
	if err != nil {
		return nil, err
	}
	dVecs, dBack, err := s.encode(s.docEnc, documents)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(queries))
	for i := range queries {
		values[i] = nn.Dot(qVecs[i], dVecs[i])
	}

	if tc == nil {
		return NewScores(values, nil), nil
	}

	hooks, err := tc.DualVectorHooks()
	if err != nil {
		return nil, err
	}
	var hookQ, hookD [][]float64
	for _, hook := range hooks {
		res, err := hook.Apply(tc, qVecs, dVecs, true)
		if err != nil {
			return nil, fmt.Errorf("vector hook %q failed: %w", hook.Name(), err)
		}
		if res == nil {
			continue
		}
		for _, term := range res.Terms {
			tc.AddLoss(term.Name, term.Value, term.Weight)
		}
		hookQ = accumulateGrads(hookQ, res.QueryGrads, len(queries))
		hookD = accumulateGrads(hookD, res.DocGrads, len(documents))
	}

	backward := func(dScores []float64, auxScale float64) {
		dq := make([][]float64, len(dScores))
		dd := make([][]float64, len(dScores))
		for i, ds := range dScores {
			dqi := make([]float64, len(qVecs[i]))
			ddi := make([]float64, len(dVecs[i]))
			nn.Axpy(ds, dVecs[i], dqi)
			nn.Axpy(ds, qVecs[i], ddi)
			if hookQ != nil {
				nn.Axpy(auxScale, hookQ[i], dqi)
			}
			if hookD != nil {
				nn.Axpy(auxScale, hookD[i], ddi)
			}
			dq[i] = dqi
			dd[i] = ddi
		}
		qBack(dq)
		dBack(dd)
	}
	return NewScores(values, backward), nil
}

func accumulateGrads(acc, grads [][]float64, n int) [][]float64 {
	if grads == nil {
		return acc
	}
	if acc == nil {
		acc = make([][]float64, n)
	}
	for i, g := range grads {
		if acc[i] == nil {
			acc[i] = make([]float64, len(g))
		}
		nn.Axpy(1, g, acc[i])
	}
	return acc
}

// ScoreTexts implements Scorer (and retrieval.Reranker).
func (s *Dual) ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error) {
	scores, err := s.ScorePairs(ctx, queries, documents, nil)
	if err != nil {
		return nil, err
	}
	return scores.Values, nil
}

// Parameters implements Trainable.
func (s *Dual) Parameters() []*nn.Parameter {
	params := s.docEnc.Parameters()
	if s.queryEnc != nil {
		params = append(params, s.queryEnc.Parameters()...)
	}
	return params
}

// Retriever wraps this scorer as the second stage over a base retriever.
func (s *Dual) Retriever(base retrieval.Retriever, store index.Store, cfg retrieval.TwoStageConfig) (retrieval.Retriever, error) {
	return retrieval.NewTwoStage(base, s, store, cfg)
}

// FullRetriever scores queries against the entire store, for dense
// validation without a first stage.
func (s *Dual) FullRetriever(store index.Store, batchSize int) (retrieval.Retriever, error) {
	return retrieval.NewFullRescorer(s, store, batchSize)
}
