package trainer

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
	"github.com/soundprediction/ordino/pkg/optim"
	"github.com/soundprediction/ordino/pkg/sampler"
	"github.com/soundprediction/ordino/pkg/scorer"
)

// stubTrainable scores every positive with pos and every negative with neg,
// shifted by a single trainable bias so optimizer steps are observable.
type stubTrainable struct {
	pos, neg float64
	bias     *nn.Parameter
	calls    int
	failures int
	failWith error
}

func newStubTrainable(pos, neg float64) *stubTrainable {
	return &stubTrainable{pos: pos, neg: neg, bias: nn.NewParameter("stub.bias", 1, 1)}
}

func (s *stubTrainable) Initialize(*letor.Random) error { return nil }

func (s *stubTrainable) ScorePairs(_ context.Context, queries, documents []string, tc *letor.Context) (*scorer.Scores, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, s.failWith
	}
	values := make([]float64, len(queries))
	for i := range values {
		if i%letor.PairWidth == 0 {
			values[i] = s.pos + s.bias.Data[0]
		} else {
			values[i] = s.neg + s.bias.Data[0]
		}
	}
	if tc == nil {
		return scorer.NewScores(values, nil), nil
	}
	return scorer.NewScores(values, func(dScores []float64, _ float64) {
		for _, g := range dScores {
			s.bias.Grad[0] += g
		}
	}), nil
}

func (s *stubTrainable) ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error) {
	scores, err := s.ScorePairs(ctx, queries, documents, nil)
	if err != nil {
		return nil, err
	}
	return scores.Values, nil
}

func (s *stubTrainable) Parameters() []*nn.Parameter { return []*nn.Parameter{s.bias} }

func newTrainer(t *testing.T, cfg PairwiseConfig, model scorer.Trainable) (*Pairwise, *letor.Context) {
	t.Helper()
	tr, err := NewPairwise(cfg)
	require.NoError(t, err)
	rnd := letor.NewRandom(7)
	require.NoError(t, model.Initialize(rnd))
	opt, err := optim.NewModuleOptimizer(nil, optim.Group{Inner: optim.NewSGD(0.1)})
	require.NoError(t, err)
	require.NoError(t, opt.Bind(model.Parameters()))
	tc := letor.NewContext()
	require.NoError(t, tr.Initialize(context.Background(), rnd, model, tc, opt))
	return tr, tc
}

func batchSource(t *testing.T, n int, loop bool) sampler.BatchSource {
	t.Helper()
	mem, err := sampler.NewMemory(recordBatch(n), loop)
	require.NoError(t, err)
	src, err := sampler.NewBatched(mem)
	require.NoError(t, err)
	return src
}

func TestPairwiseSoftmaxSteps(t *testing.T) {
	ctx := context.Background()
	model := newStubTrainable(1, 0)
	tr, tc := newTrainer(t, PairwiseConfig{
		Source:    batchSource(t, 4, false),
		Loss:      SoftmaxLoss{},
		BatchSize: 2,
	}, model)

	for step := 0; step < 2; step++ {
		require.NoError(t, tr.TrainBatch(ctx))
		tc.AdvanceStep()
	}

	loss, ok := tc.Metrics().Mean("loss")
	require.True(t, ok)
	assert.InDelta(t, 0.2689, loss, 1e-3)

	pair, ok := tc.Metrics().Mean("pair-softmax")
	require.True(t, ok)
	assert.InDelta(t, loss, pair, 1e-12)

	acc, ok := tc.Metrics().Mean("accuracy")
	require.True(t, ok)
	assert.Equal(t, 1.0, acc)

	// A uniform shift of all scores leaves the softmax unchanged, so the
	// bias receives no net gradient.
	assert.InDelta(t, 0, model.bias.Data[0], 1e-12)
	require.ErrorIs(t, tr.TrainBatch(ctx), io.EOF)
}

func TestPairwiseHingeStep(t *testing.T) {
	ctx := context.Background()
	tr, tc := newTrainer(t, PairwiseConfig{
		Source:    batchSource(t, 4, true),
		Loss:      HingeLoss{Margin: 1},
		BatchSize: 4,
	}, newStubTrainable(0.3, 0.9))

	require.NoError(t, tr.TrainBatch(ctx))

	loss, ok := tc.Metrics().Mean("loss")
	require.True(t, ok)
	assert.InDelta(t, 1.6, loss, 1e-9)

	acc, ok := tc.Metrics().Mean("accuracy")
	require.True(t, ok)
	assert.Zero(t, acc)
}

func TestPairwiseOptimizerStep(t *testing.T) {
	ctx := context.Background()
	model := newStubTrainable(1, 0)
	tr, _ := newTrainer(t, PairwiseConfig{
		Source:    batchSource(t, 2, true),
		Loss:      PointwiseLoss{},
		BatchSize: 2,
	}, model)

	require.NoError(t, tr.TrainBatch(ctx))

	// d/dbias = mean over records of sigmoid(1) - 1 + sigmoid(0), stepped
	// with learning rate 0.1.
	want := -0.1 * (sigmoid(1) - 1 + sigmoid(0))
	assert.InDelta(t, want, model.bias.Data[0], 1e-9)
}

func TestPairwiseStateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("training before initialization fails", func(t *testing.T) {
		tr, err := NewPairwise(PairwiseConfig{Source: batchSource(t, 2, true), Loss: SoftmaxLoss{}})
		require.NoError(t, err)
		require.ErrorIs(t, tr.TrainBatch(ctx), letor.ErrConfiguration)
	})

	t.Run("second initialization fails", func(t *testing.T) {
		model := newStubTrainable(1, 0)
		tr, tc := newTrainer(t, PairwiseConfig{Source: batchSource(t, 2, true), Loss: SoftmaxLoss{}}, model)
		opt, err := optim.NewModuleOptimizer(nil, optim.Group{Inner: optim.NewSGD(0.1)})
		require.NoError(t, err)
		err = tr.Initialize(ctx, letor.NewRandom(7), model, tc, opt)
		require.ErrorIs(t, err, letor.ErrConfiguration)
		assert.ErrorContains(t, err, "already initialized")
	})

	t.Run("missing collaborators fail", func(t *testing.T) {
		tr, err := NewPairwise(PairwiseConfig{Source: batchSource(t, 2, true), Loss: SoftmaxLoss{}})
		require.NoError(t, err)
		err = tr.Initialize(ctx, letor.NewRandom(7), nil, letor.NewContext(), nil)
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})

	t.Run("config requires source and loss", func(t *testing.T) {
		_, err := NewPairwise(PairwiseConfig{Loss: SoftmaxLoss{}})
		require.ErrorIs(t, err, letor.ErrConfiguration)
		_, err = NewPairwise(PairwiseConfig{Source: batchSource(t, 2, true)})
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})
}

func TestPairwiseDivergenceAborts(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTrainer(t, PairwiseConfig{
		Source:    batchSource(t, 2, true),
		Loss:      SoftmaxLoss{},
		BatchSize: 2,
	}, newStubTrainable(math.NaN(), 0))

	err := tr.TrainBatch(ctx)
	require.ErrorIs(t, err, letor.ErrNumericalDivergence)
	assert.ErrorContains(t, err, "batch 0")
}

// Training one full batch and training the same batch as accumulated
// micro-batches must produce the same loss and the same parameters.
func TestPairwiseAccumulationInvariant(t *testing.T) {
	train := func(t *testing.T, microSize int) (*scorer.Cross, float64) {
		t.Helper()
		batcher, err := NewFixedBatcher(microSize)
		require.NoError(t, err)
		model, err := scorer.NewCross(scorer.CrossConfig{VocabSize: 512, Dim: 8, Hidden: 4})
		require.NoError(t, err)
		tr, tc := newTrainer(t, PairwiseConfig{
			Source:    batchSource(t, 6, false),
			Loss:      HingeLoss{Margin: 1},
			Batcher:   batcher,
			BatchSize: 6,
		}, model)
		require.NoError(t, tr.TrainBatch(context.Background()))
		loss, ok := tc.Metrics().Mean("loss")
		require.True(t, ok)
		return model, loss
	}

	whole, wholeLoss := train(t, 0)
	split, splitLoss := train(t, 2)

	require.InEpsilon(t, wholeLoss, splitLoss, 1e-5)
	wholeParams := whole.Parameters()
	splitParams := split.Parameters()
	require.Equal(t, len(wholeParams), len(splitParams))
	for i, p := range wholeParams {
		q := splitParams[i]
		require.Equal(t, p.Name, q.Name)
		for j := range p.Data {
			assert.InDelta(t, p.Data[j], q.Data[j], 1e-9, "%s[%d]", p.Name, j)
		}
	}
}

func TestPairwiseResourceExhaustionRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("adaptive batcher retries at half size", func(t *testing.T) {
		batcher, err := NewPowerAdaptiveBatcher(0, nil)
		require.NoError(t, err)
		model := newStubTrainable(0.3, 0.9)
		model.failures = 1
		model.failWith = letor.ErrResourceExhausted
		tr, tc := newTrainer(t, PairwiseConfig{
			Source:    batchSource(t, 4, true),
			Loss:      HingeLoss{Margin: 1},
			Batcher:   batcher,
			BatchSize: 4,
		}, model)

		require.NoError(t, tr.TrainBatch(ctx))
		assert.Equal(t, 3, model.calls, "one failed attempt plus two retry micro-batches")

		// The failed attempt leaves no trace in the step's loss.
		loss, ok := tc.Metrics().Mean("loss")
		require.True(t, ok)
		assert.InDelta(t, 1.6, loss, 1e-9)
		count, ok := tc.Metrics().Mean("accuracy")
		require.True(t, ok)
		assert.Zero(t, count)
	})

	t.Run("fixed batcher propagates exhaustion", func(t *testing.T) {
		model := newStubTrainable(0.3, 0.9)
		model.failures = 1
		model.failWith = letor.ErrResourceExhausted
		tr, _ := newTrainer(t, PairwiseConfig{
			Source:    batchSource(t, 4, true),
			Loss:      HingeLoss{Margin: 1},
			BatchSize: 4,
		}, model)

		require.ErrorIs(t, tr.TrainBatch(ctx), letor.ErrResourceExhausted)
		assert.Equal(t, 1, model.calls)
	})
}

func TestPairwiseCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr, tc := newTrainer(t, PairwiseConfig{
		Source:    batchSource(t, 4, true),
		Loss:      SoftmaxLoss{},
		BatchSize: 2,
	}, newStubTrainable(1, 0))

	require.NoError(t, tr.TrainBatch(ctx))
	tc.AdvanceStep()
	cur := tr.Cursor()
	assert.Equal(t, int64(2), cur.Count)

	require.NoError(t, tr.Restore(ctx, cur))
	require.NoError(t, tr.TrainBatch(ctx))
	assert.Equal(t, int64(4), tr.Cursor().Count)
	require.NoError(t, tr.Close())
}
