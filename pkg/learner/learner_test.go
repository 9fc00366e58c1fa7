package learner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
	"github.com/soundprediction/ordino/pkg/optim"
	"github.com/soundprediction/ordino/pkg/sampler"
	"github.com/soundprediction/ordino/pkg/scorer"
	"github.com/soundprediction/ordino/pkg/telemetry"
	"github.com/soundprediction/ordino/pkg/trainer"
	"github.com/soundprediction/ordino/pkg/types"
)

// stubScorer scores positives with pos and negatives with neg, shifted by
// one trainable bias so optimizer steps and checkpoint restores are
// observable in a single number.
type stubScorer struct {
	pos, neg float64
	bias     *nn.Parameter
	calls    int
	failAt   int
	failWith error
}

func newStubScorer(pos, neg float64) *stubScorer {
	return &stubScorer{pos: pos, neg: neg, bias: nn.NewParameter("stub.bias", 1, 1)}
}

func (s *stubScorer) Initialize(*letor.Random) error { return nil }

func (s *stubScorer) ScorePairs(_ context.Context, queries, documents []string, tc *letor.Context) (*scorer.Scores, error) {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
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

func (s *stubScorer) ScoreTexts(ctx context.Context, queries, documents []string) ([]float64, error) {
	scores, err := s.ScorePairs(ctx, queries, documents, nil)
	if err != nil {
		return nil, err
	}
	return scores.Values, nil
}

func (s *stubScorer) Parameters() []*nn.Parameter { return []*nn.Parameter{s.bias} }

func trainingSource(t *testing.T, n int) sampler.BatchSource {
	t.Helper()
	records := make(letor.Batch, n)
	for i := range records {
		records[i] = letor.PairwiseRecord{
			Query:    types.Query{ID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("query %d", i)},
			Positive: types.Document{ID: fmt.Sprintf("p%d", i), Text: fmt.Sprintf("positive %d", i)},
			Negative: types.Document{ID: fmt.Sprintf("n%d", i), Text: fmt.Sprintf("negative %d", i)},
		}
	}
	mem, err := sampler.NewMemory(records, true)
	require.NoError(t, err)
	src, err := sampler.NewBatched(mem)
	require.NoError(t, err)
	return src
}

// testRun wires a stub model, SGD, and a pointwise trainer into a learner
// rooted at dir. The pointwise loss moves the bias every step, so runs
// are comparable through it.
func testRun(t *testing.T, dir string, maxEpochs int64) (*Learner, *stubScorer) {
	t.Helper()
	model := newStubScorer(1, 0)
	require.NoError(t, model.Initialize(letor.NewRandom(7)))
	opt, err := optim.NewModuleOptimizer(nil, optim.Group{Inner: optim.NewSGD(0.1)})
	require.NoError(t, err)
	require.NoError(t, opt.Bind(model.Parameters()))
	tr, err := trainer.NewPairwise(trainer.PairwiseConfig{
		Source:    trainingSource(t, 4),
		Loss:      trainer.PointwiseLoss{},
		BatchSize: 2,
	})
	require.NoError(t, err)

	l, err := New(Config{
		Dir:           dir,
		Run:           "test",
		MaxEpochs:     maxEpochs,
		StepsPerEpoch: 2,
		Trainer:       tr,
		Model:         model,
		Optimizer:     opt,
		Random:        letor.NewRandom(7),
	})
	require.NoError(t, err)
	return l, model
}

func TestLearnerRunsEpochs(t *testing.T) {
	dir := t.TempDir()
	l, model := testRun(t, dir, 3)

	sink, err := telemetry.NewSink(filepath.Join(dir, "metrics"), 0)
	require.NoError(t, err)
	l.cfg.Sink = sink

	require.NoError(t, l.Run(context.Background()))

	prog := l.Progress()
	assert.Equal(t, int64(3), prog.Epoch)
	assert.Equal(t, int64(6), prog.Step)
	assert.True(t, prog.Done)

	// The pointwise gradient stays positive until sigmoid(1+b)+sigmoid(b)
	// reaches 1, so the bias descends toward -0.5 and stops there.
	assert.Less(t, model.bias.Data[0], 0.0)
	assert.Greater(t, model.bias.Data[0], -0.5)

	cp, err := l.Manager().Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(3), cp.Epoch)
	assert.Equal(t, int64(6), cp.Step)
	assert.Equal(t, int64(12), cp.Cursor.Count, "2 records per step, 6 steps")

	require.NoError(t, sink.Close())
	rows, err := telemetry.ReadRows(filepath.Join(dir, "metrics"))
	require.NoError(t, err)
	var epochs []int64
	for _, row := range rows {
		if row.Key == "loss" {
			epochs = append(epochs, row.Epoch)
			assert.Equal(t, "test", row.Run)
			assert.Greater(t, row.Value, 0.0)
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, epochs)
}

// Training N epochs straight and training the same N epochs split by a
// restart must end in the same state: checkpoint plus cursor fully
// determine continuation.
func TestLearnerResumeIdempotence(t *testing.T) {
	straight, modelA := testRun(t, t.TempDir(), 4)
	require.NoError(t, straight.Run(context.Background()))

	dir := t.TempDir()
	first, _ := testRun(t, dir, 2)
	require.NoError(t, first.Run(context.Background()))

	resumed, modelB := testRun(t, dir, 4)
	require.NoError(t, resumed.Run(context.Background()))

	assert.Equal(t, modelA.bias.Data[0], modelB.bias.Data[0],
		"split run must reproduce the straight run exactly")
	assert.Equal(t, 8, modelA.calls)
	assert.Equal(t, 4, modelB.calls, "resume must not re-run completed epochs")

	cpA, err := straight.Manager().Load()
	require.NoError(t, err)
	cpB, err := resumed.Manager().Load()
	require.NoError(t, err)
	assert.Equal(t, cpA.Epoch, cpB.Epoch)
	assert.Equal(t, cpA.Step, cpB.Step)
	assert.Equal(t, cpA.Cursor, cpB.Cursor)
	assert.Equal(t, cpA.Params, cpB.Params)
}

func TestLearnerFailureLeavesCheckpointIntact(t *testing.T) {
	backendErr := errors.New("scoring backend offline")
	dir := t.TempDir()
	l, model := testRun(t, dir, 3)
	model.failAt = 3 // epoch 2, first step
	model.failWith = backendErr

	err := l.Run(context.Background())
	require.ErrorIs(t, err, backendErr)
	assert.ErrorContains(t, err, "epoch 2")

	cp, loadErr := l.Manager().Load()
	require.NoError(t, loadErr)
	require.NotNil(t, cp)
	assert.Equal(t, int64(1), cp.Epoch, "the last good checkpoint survives the failure")
}

func TestLearnerRunOnce(t *testing.T) {
	l, _ := testRun(t, t.TempDir(), 1)
	require.NoError(t, l.Run(context.Background()))
	require.ErrorIs(t, l.Run(context.Background()), letor.ErrConfiguration)
}

func TestLearnerHonorsCancellation(t *testing.T) {
	l, _ := testRun(t, t.TempDir(), 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, l.Run(ctx), context.Canceled)

	cp, err := l.Manager().Load()
	require.NoError(t, err)
	assert.Nil(t, cp, "no epoch completed, no checkpoint written")
}

func TestLearnerConfigValidation(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, letor.ErrConfiguration)

	_, err = New(Config{Dir: t.TempDir()})
	require.ErrorIs(t, err, letor.ErrConfiguration)
}

type failingHook struct{ err error }

func (failingHook) Name() string { return "failing" }

func (h failingHook) Distribute(*letor.Context) error { return h.err }

func TestLearnerRunsDistributionHooks(t *testing.T) {
	hookErr := errors.New("device unavailable")
	l, _ := testRun(t, t.TempDir(), 1)
	l.Context().Register(letor.HookDistribution, failingHook{err: hookErr})

	require.ErrorIs(t, l.Run(context.Background()), hookErr)
}
