package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
	"github.com/soundprediction/ordino/pkg/optim"
	"github.com/soundprediction/ordino/pkg/sampler"
	"github.com/soundprediction/ordino/pkg/scorer"
)

// PairwiseConfig assembles a pairwise trainer.
type PairwiseConfig struct {
	// Source produces the training batches.
	Source sampler.BatchSource
	// Loss turns each micro-batch's score matrix into loss and gradients.
	Loss PairwiseLoss
	// Batcher controls gradient-accumulation splitting. Defaults to a
	// FixedBatcher with accumulation disabled.
	Batcher Batcher
	// BatchSize is the number of records per optimizer step. Defaults
	// to 16.
	BatchSize int
	Logger    *slog.Logger
}

func (cfg *PairwiseConfig) setDefaults() error {
	if cfg.Source == nil {
		return fmt.Errorf("%w: pairwise trainer needs a batch source", letor.ErrConfiguration)
	}
	if cfg.Loss == nil {
		return fmt.Errorf("%w: pairwise trainer needs a loss", letor.ErrConfiguration)
	}
	if cfg.Batcher == nil {
		fixed, err := NewFixedBatcher(0)
		if err != nil {
			return err
		}
		cfg.Batcher = fixed
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// Pairwise drives pairwise training: each step pulls one batch, scores it
// in sequential micro-batches, accumulates gradients, and applies a single
// optimizer update. The scorer's parameters are mutated here and nowhere
// else during a run.
type Pairwise struct {
	cfg   PairwiseConfig
	model scorer.Trainable
	opt   *optim.ModuleOptimizer
	tc    *letor.Context
	iter  sampler.BatchIterator
}

// NewPairwise returns an uninitialized trainer.
func NewPairwise(cfg PairwiseConfig) (*Pairwise, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return &Pairwise{cfg: cfg}, nil
}

// Initialize binds the trainer to an initialized scorer, the run context,
// and an optimizer already bound to the scorer's parameters, then opens the
// batch stream. It must be called exactly once.
func (t *Pairwise) Initialize(ctx context.Context, rnd *letor.Random, model scorer.Trainable, tc *letor.Context, opt *optim.ModuleOptimizer) error {
	if t.iter != nil {
		return fmt.Errorf("%w: trainer is already initialized", letor.ErrConfiguration)
	}
	if rnd == nil || model == nil || tc == nil || opt == nil {
		return fmt.Errorf("%w: trainer initialization needs random, scorer, context and optimizer", letor.ErrConfiguration)
	}
	if err := t.cfg.Source.Initialize(rnd.Derive("sampler")); err != nil {
		return fmt.Errorf("failed to initialize sampler: %w", err)
	}
	iter, err := t.cfg.Source.BatchIterate(ctx, t.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to open batch stream: %w", err)
	}
	t.model = model
	t.opt = opt
	t.tc = tc
	t.iter = iter
	return nil
}

// Cursor returns the sampling cursor after the last completed batch, for
// checkpointing.
func (t *Pairwise) Cursor() sampler.Cursor {
	if t.iter == nil {
		return sampler.Cursor{}
	}
	return t.iter.Cursor()
}

// Restore repositions the sampling stream on resume.
func (t *Pairwise) Restore(ctx context.Context, c sampler.Cursor) error {
	if t.iter == nil {
		return fmt.Errorf("%w: trainer is not initialized", letor.ErrConfiguration)
	}
	return t.iter.Restore(ctx, c)
}

// Close releases the batch stream.
func (t *Pairwise) Close() error {
	if t.iter == nil {
		return nil
	}
	return t.iter.Close()
}

// TrainBatch runs one training step: pull a batch, score each micro-batch,
// accumulate gradients scaled by 1/num_micro, then step the optimizer once.
// The step's loss terms reduce into the "loss" metric and one metric per
// term name; accuracy is the fraction of records whose positive outranks
// the negative. A non-finite score aborts with letor.ErrNumericalDivergence.
func (t *Pairwise) TrainBatch(ctx context.Context) error {
	if t.iter == nil {
		return fmt.Errorf("%w: trainer is not initialized", letor.ErrConfiguration)
	}
	index := t.tc.Step()
	batch, err := t.iter.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to pull batch %d: %w", index, err)
	}

	var numMicro int
	var accSum, accWeight float64
	err = t.cfg.Batcher.Process(batch, func(micros []letor.Batch) error {
		// A retried attempt starts from scratch: no stale gradients,
		// loss terms, or accuracy from the failed one.
		t.opt.ZeroGrad()
		t.tc.ReduceStep(1)
		numMicro = len(micros)
		accSum, accWeight = 0, 0
		for _, micro := range micros {
			acc, rows, err := t.processMicro(ctx, micro, index, numMicro)
			if err != nil {
				return err
			}
			accSum += acc * float64(rows)
			accWeight += float64(rows)
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.opt.Step()

	total, byName := t.tc.ReduceStep(numMicro)
	metrics := t.tc.Metrics()
	metrics.Add("loss", total, 1)
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		metrics.Add(name, byName[name], 1)
	}
	if accWeight > 0 {
		metrics.Add("accuracy", accSum/accWeight, accWeight)
	}
	return nil
}

func (t *Pairwise) processMicro(ctx context.Context, micro letor.Batch, batchIndex int64, numMicro int) (float64, int, error) {
	queries, documents := micro.Texts()
	scores, err := t.model.ScorePairs(ctx, queries, documents, t.tc)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to score batch %d: %w", batchIndex, err)
	}
	matrix, err := letor.ReshapeScores(scores.Values, letor.PairWidth)
	if err != nil {
		return 0, 0, err
	}
	if row, col, found := matrix.NonFinite(); found {
		t.cfg.Logger.Error("non-finite relevance score, aborting run",
			"batch", batchIndex, "record", row, "column", col)
		return 0, 0, fmt.Errorf("%w: score %g at batch %d record %d column %d",
			letor.ErrNumericalDivergence, matrix.At(row, col), batchIndex, row, col)
	}

	value, grad, err := t.cfg.Loss.Compute(matrix)
	if err != nil {
		return 0, 0, err
	}
	t.tc.AddLoss("pair-"+t.cfg.Loss.Name(), value, 1)

	scale := 1 / float64(numMicro)
	nn.Scale(scale, grad.Values)
	if err := scores.Backward(grad.Values, scale); err != nil {
		return 0, 0, err
	}
	return matrix.Accuracy(), matrix.Rows, nil
}
