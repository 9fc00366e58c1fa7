package scorer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/encoder"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

var (
	testQueries = []string{"neural ranking", "pasta recipe"}
	testDocs    = []string{"ranking with neural models", "how to cook pasta"}
)

func newBag(t *testing.T, name string, dim int) *encoder.Bag {
	t.Helper()
	tok, err := encoder.NewTokenizer(256)
	require.NoError(t, err)
	bag, err := encoder.NewBag(name, tok, dim)
	require.NoError(t, err)
	return bag
}

// weightedSum evaluates sum_i c_i * score_i plus any hook loss terms, the
// quantity whose gradient Backward(c, 1) produces.
func weightedSum(t *testing.T, s Trainable, hook letor.DualVectorHook, coeffs []float64) float64 {
	t.Helper()
	tc := letor.NewContext()
	if hook != nil {
		tc.Register(letor.HookDualVectors, hook)
	}
	scores, err := s.ScorePairs(context.Background(), testQueries, testDocs, tc)
	require.NoError(t, err)

	total := 0.0
	for i, v := range scores.Values {
		total += coeffs[i] * v
	}
	for _, term := range tc.StepTerms() {
		total += term.Value * term.Weight
	}
	return total
}

// checkGradients compares analytic gradients against central finite
// differences for every parameter entry.
func checkGradients(t *testing.T, s Trainable, hook letor.DualVectorHook) {
	t.Helper()
	coeffs := []float64{0.7, -1.3}

	nn.ZeroGrads(s.Parameters())
	tc := letor.NewContext()
	if hook != nil {
		tc.Register(letor.HookDualVectors, hook)
	}
	scores, err := s.ScorePairs(context.Background(), testQueries, testDocs, tc)
	require.NoError(t, err)
	require.True(t, scores.Trainable())
	require.NoError(t, scores.Backward(coeffs, 1))

	const eps = 1e-6
	for _, p := range s.Parameters() {
		// Check every entry with a live gradient (capped for big tables)
		// plus a few zero-gradient entries to catch false zeroes.
		live, zero := 0, 0
		for i := range p.Data {
			if p.Grad[i] != 0 {
				if live >= 30 {
					continue
				}
				live++
			} else {
				if zero >= 5 {
					continue
				}
				zero++
			}
			old := p.Data[i]
			p.Data[i] = old + eps
			plus := weightedSum(t, s, hook, coeffs)
			p.Data[i] = old - eps
			minus := weightedSum(t, s, hook, coeffs)
			p.Data[i] = old

			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, p.Grad[i], 1e-4, "parameter %s entry %d", p.Name, i)
		}
		assert.Positive(t, live, "parameter %s received no gradient", p.Name)
	}
}

func TestCrossScorer(t *testing.T) {
	t.Run("deterministic scores", func(t *testing.T) {
		a, err := NewCross(CrossConfig{VocabSize: 256, Dim: 8, Hidden: 4})
		require.NoError(t, err)
		require.NoError(t, a.Initialize(letor.NewRandom(5)))
		b, err := NewCross(CrossConfig{VocabSize: 256, Dim: 8, Hidden: 4})
		require.NoError(t, err)
		require.NoError(t, b.Initialize(letor.NewRandom(5)))

		sa, err := a.ScoreTexts(context.Background(), testQueries, testDocs)
		require.NoError(t, err)
		sb, err := b.ScoreTexts(context.Background(), testQueries, testDocs)
		require.NoError(t, err)
		assert.Equal(t, sa, sb)
	})

	t.Run("requires initialization", func(t *testing.T) {
		s, err := NewCross(CrossConfig{VocabSize: 256, Dim: 8, Hidden: 4})
		require.NoError(t, err)
		_, err = s.ScoreTexts(context.Background(), testQueries, testDocs)
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})

	t.Run("gradients match finite differences", func(t *testing.T) {
		s, err := NewCross(CrossConfig{VocabSize: 64, Dim: 6, Hidden: 3})
		require.NoError(t, err)
		require.NoError(t, s.Initialize(letor.NewRandom(9)))
		checkGradients(t, s, nil)
	})

	t.Run("inference scores cannot backpropagate", func(t *testing.T) {
		s, err := NewCross(CrossConfig{VocabSize: 64, Dim: 6, Hidden: 3})
		require.NoError(t, err)
		require.NoError(t, s.Initialize(letor.NewRandom(9)))

		scores, err := s.ScorePairs(context.Background(), testQueries, testDocs, nil)
		require.NoError(t, err)
		assert.False(t, scores.Trainable())
		assert.Error(t, scores.Backward([]float64{1, 1}, 1))
	})
}

func TestDualConstruction(t *testing.T) {
	t.Run("frozen document encoder is rejected", func(t *testing.T) {
		_, err := NewDual(encoder.Frozen(newBag(t, "d", 8)), nil, SimilarityDot)
		require.ErrorIs(t, err, letor.ErrConfiguration)
		assert.Contains(t, err.Error(), "frozen")
	})

	t.Run("frozen query encoder is rejected", func(t *testing.T) {
		_, err := NewDual(newBag(t, "d", 8), encoder.Frozen(newBag(t, "q", 8)), SimilarityDot)
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})

	t.Run("unknown similarity is rejected", func(t *testing.T) {
		_, err := NewDual(newBag(t, "d", 8), nil, Similarity("manhattan"))
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})

	t.Run("shared encoder is accepted", func(t *testing.T) {
		shared := newBag(t, "shared", 8)
		s, err := NewDual(shared, shared, SimilarityDot)
		require.NoError(t, err)
		require.NoError(t, s.Initialize(letor.NewRandom(1)))
		assert.Len(t, s.Parameters(), 1, "shared encoder must not be listed twice")
	})
}

func TestDualScoring(t *testing.T) {
	newDual := func(t *testing.T, sim Similarity) *Dual {
		s, err := NewDual(newBag(t, "d", 8), newBag(t, "q", 8), sim)
		require.NoError(t, err)
		require.NoError(t, s.Initialize(letor.NewRandom(3)))
		return s
	}

	t.Run("dot equals the inner product of encodings", func(t *testing.T) {
		s := newDual(t, SimilarityDot)

		qVecs, _, err := s.queryEncoder().Encode(testQueries)
		require.NoError(t, err)
		dVecs, _, err := s.docEnc.Encode(testDocs)
		require.NoError(t, err)

		values, err := s.ScoreTexts(context.Background(), testQueries, testDocs)
		require.NoError(t, err)
		for i := range values {
			assert.InDelta(t, nn.Dot(qVecs[i], dVecs[i]), values[i], 1e-12)
		}
	})

	t.Run("cosine self-similarity is one", func(t *testing.T) {
		shared := newBag(t, "shared", 8)
		s, err := NewDual(shared, nil, SimilarityCosine)
		require.NoError(t, err)
		require.NoError(t, s.Initialize(letor.NewRandom(3)))

		values, err := s.ScoreTexts(context.Background(), []string{"same text"}, []string{"same text"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, values[0], 1e-9)
	})

	t.Run("dot gradients match finite differences", func(t *testing.T) {
		checkGradients(t, newDual(t, SimilarityDot), nil)
	})

	t.Run("cosine gradients match finite differences", func(t *testing.T) {
		checkGradients(t, newDual(t, SimilarityCosine), nil)
	})

	t.Run("gradients with flops hook match finite differences", func(t *testing.T) {
		checkGradients(t, newDual(t, SimilarityDot), NewFlopsRegularizer(0.3, 0.2))
	})
}

// countingHook records how many times it was applied.
type countingHook struct {
	calls int
}

func (h *countingHook) Name() string { return "counting" }

func (h *countingHook) Apply(*letor.Context, [][]float64, [][]float64, bool) (*letor.VectorHookResult, error) {
	h.calls++
	return &letor.VectorHookResult{Terms: []letor.LossTerm{{Name: "counting", Value: 1, Weight: 0.5}}}, nil
}

func TestDualHooks(t *testing.T) {
	newDual := func(t *testing.T) *Dual {
		s, err := NewDual(newBag(t, "d", 4), nil, SimilarityDot)
		require.NoError(t, err)
		require.NoError(t, s.Initialize(letor.NewRandom(3)))
		return s
	}

	t.Run("invoked exactly once per training pass", func(t *testing.T) {
		s := newDual(t)
		hook := &countingHook{}
		tc := letor.NewContext()
		tc.Register(letor.HookDualVectors, hook)

		_, err := s.ScorePairs(context.Background(), testQueries, testDocs, tc)
		require.NoError(t, err)
		assert.Equal(t, 1, hook.calls)

		terms := tc.StepTerms()
		require.Len(t, terms, 1)
		assert.Equal(t, "counting", terms[0].Name)
	})

	t.Run("skipped in inference mode", func(t *testing.T) {
		s := newDual(t)
		hook := &countingHook{}
		tc := letor.NewContext()
		tc.Register(letor.HookDualVectors, hook)

		_, err := s.ScoreTexts(context.Background(), testQueries, testDocs)
		require.NoError(t, err)
		assert.Zero(t, hook.calls)
	})
}

func TestFlopsRegularizer(t *testing.T) {
	t.Run("known value", func(t *testing.T) {
		// means per dimension: |.|-means of {1,-3} and {2,0} are 2 and 1.
		queries := [][]float64{{1, 2}, {-3, 0}}
		docs := [][]float64{{1, 1}, {1, 1}}
		hook := NewFlopsRegularizer(1, 0)

		tc := letor.NewContext()
		res, err := hook.Apply(tc, queries, docs, false)
		require.NoError(t, err)
		require.Len(t, res.Terms, 1)
		assert.InDelta(t, 5.0, res.Terms[0].Value, 1e-12, "2^2 + 1^2")
		assert.Nil(t, res.QueryGrads, "no gradients in inference mode")

		sparsityQ, ok := tc.Metrics().Mean("sparsity_q")
		require.True(t, ok)
		assert.InDelta(t, 0.75, sparsityQ, 1e-12)
		sparsityD, ok := tc.Metrics().Mean("sparsity_d")
		require.True(t, ok)
		assert.InDelta(t, 1.0, sparsityD, 1e-12)
	})

	t.Run("gradients only in training mode", func(t *testing.T) {
		hook := NewFlopsRegularizer(0.5, 0.5)
		tc := letor.NewContext()
		res, err := hook.Apply(tc, [][]float64{{1, -1}}, [][]float64{{2, 0}}, true)
		require.NoError(t, err)
		require.NotNil(t, res.QueryGrads)
		// d/dx lambda*(|x|/1)^2 = 2*lambda*|x|*sign(x)
		assert.InDelta(t, 1.0, res.QueryGrads[0][0], 1e-12)
		assert.InDelta(t, -1.0, res.QueryGrads[0][1], 1e-12)
		assert.InDelta(t, 2.0, res.DocGrads[0][0], 1e-12)
		assert.InDelta(t, 0.0, res.DocGrads[0][1], 1e-12)
	})
}

func TestRandomScorer(t *testing.T) {
	s := NewRandom()
	require.NoError(t, s.Initialize(letor.NewRandom(11)))

	t.Run("stable per pair", func(t *testing.T) {
		a, err := s.ScoreTexts(context.Background(), testQueries, testDocs)
		require.NoError(t, err)
		b, err := s.ScoreTexts(context.Background(), []string{testQueries[1], testQueries[0]}, []string{testDocs[1], testDocs[0]})
		require.NoError(t, err)
		assert.Equal(t, a[0], b[1])
		assert.Equal(t, a[1], b[0])
	})

	t.Run("refuses training mode", func(t *testing.T) {
		_, err := s.ScorePairs(context.Background(), testQueries, testDocs, letor.NewContext())
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})
}
