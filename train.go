package ordino

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/soundprediction/ordino/pkg/alert"
	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/encoder"
	"github.com/soundprediction/ordino/pkg/evaluation"
	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/jobs"
	"github.com/soundprediction/ordino/pkg/learner"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/monitor"
	"github.com/soundprediction/ordino/pkg/optim"
	"github.com/soundprediction/ordino/pkg/retrieval"
	"github.com/soundprediction/ordino/pkg/sampler"
	"github.com/soundprediction/ordino/pkg/scorer"
	"github.com/soundprediction/ordino/pkg/telemetry"
	"github.com/soundprediction/ordino/pkg/trainer"
	"github.com/soundprediction/ordino/pkg/types"
)

// Train runs the configured training loop to completion: MaxEpochs epochs
// of StepsPerEpoch optimizer steps over the pairwise triples, a
// checkpoint after every epoch, and validation against a held-out fold
// when one is configured. A run directory that already holds a checkpoint
// resumes from the epoch after it; completed epochs are never re-run.
func (e *Experiment) Train(ctx context.Context) error {
	cfg := e.cfg

	store, err := e.openStore()
	if err != nil {
		return err
	}

	model, err := e.buildModel()
	if err != nil {
		return err
	}
	if err := model.Initialize(e.random.Derive("scorer")); err != nil {
		return fmt.Errorf("failed to initialize %s scorer: %w", cfg.Model.Kind, err)
	}

	optimizer, err := e.buildOptimizer()
	if err != nil {
		return err
	}
	if err := optimizer.Bind(model.Parameters()); err != nil {
		return err
	}

	adhoc, err := dataset.LoadAdhoc(cfg.Data.Topics, cfg.Data.Qrels)
	if err != nil {
		return err
	}
	trainTopics := adhoc.Topics
	var heldOut []types.Query
	if cfg.Validation.FoldSize > 0 {
		held, _, err := dataset.RandomFold(e.random.Derive("folds"), adhoc.Assessed(), cfg.Validation.FoldSize)
		if err != nil {
			return err
		}
		heldOut = held
		heldIDs := make(map[string]bool, len(held))
		for _, q := range held {
			heldIDs[q.ID] = true
		}
		kept := make([]types.Query, 0, len(adhoc.Topics))
		for _, q := range adhoc.Topics {
			if !heldIDs[q.ID] {
				kept = append(kept, q)
			}
		}
		trainTopics = kept
		e.logger.Info("split validation fold", "held_out", len(heldOut), "training", len(trainTopics))
	}

	source, err := e.buildSource(trainTopics, store)
	if err != nil {
		return err
	}

	loss, err := trainer.NewLoss(cfg.Training.Loss, cfg.Training.Margin)
	if err != nil {
		return err
	}
	var batcher trainer.Batcher
	if cfg.Training.MicroBatch > 0 {
		adaptive, err := trainer.NewPowerAdaptiveBatcher(cfg.Training.MicroBatch, e.logger)
		if err != nil {
			return err
		}
		batcher = adaptive
	}
	pairwise, err := trainer.NewPairwise(trainer.PairwiseConfig{
		Source:    source,
		Loss:      loss,
		Batcher:   batcher,
		BatchSize: cfg.Training.BatchSize,
		Logger:    e.logger,
	})
	if err != nil {
		return err
	}

	sink, err := telemetry.NewSink(e.telemetryDir(), cfg.Telemetry.BatchSize)
	if err != nil {
		return err
	}
	defer sink.Close()

	manager, err := learner.NewManager(e.runDir())
	if err != nil {
		return err
	}
	var listeners []learner.Listener
	if len(heldOut) > 0 && len(cfg.Validation.Measures) > 0 {
		validation, err := e.buildValidation(heldOut, adhoc.Qrels, model, store, manager)
		if err != nil {
			return err
		}
		listeners = append(listeners, validation)
	}

	run, err := learner.New(learner.Config{
		Dir:           e.runDir(),
		Run:           cfg.Run,
		MaxEpochs:     cfg.Training.MaxEpochs,
		StepsPerEpoch: cfg.Training.StepsPerEpoch,
		Trainer:       pairwise,
		Model:         model,
		Optimizer:     optimizer,
		Random:        e.random,
		Listeners:     listeners,
		Sink:          sink,
		Logger:        e.logger,
	})
	if err != nil {
		return err
	}
	if cfg.Model.Kind == "dual" && (cfg.Model.FlopsQ > 0 || cfg.Model.FlopsD > 0) {
		run.Context().Register(letor.HookDualVectors,
			scorer.NewFlopsRegularizer(cfg.Model.FlopsQ, cfg.Model.FlopsD))
	}

	e.mu.Lock()
	e.run = run
	e.mu.Unlock()

	if cfg.Monitor.Enabled {
		mon := monitor.New(cfg, e, e.logger)
		mon.Setup()
		go func() {
			if err := mon.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Warn("monitor stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mon.Stop(shutdownCtx); err != nil {
				e.logger.Warn("monitor shutdown failed", "err", err)
			}
		}()
	}

	trainErr := run.Run(ctx)
	e.notifyOutcome(trainErr)
	return trainErr
}

// notifyOutcome emails the run result when alerting is configured.
// Delivery failures are logged, never propagated: a dead SMTP relay must
// not turn a finished run into a failed one.
func (e *Experiment) notifyOutcome(runErr error) {
	if !e.cfg.Alert.Enabled {
		return
	}
	subject := fmt.Sprintf("ordino: run %q finished", e.cfg.Run)
	p := e.Progress()
	body := fmt.Sprintf("epoch %d/%d, step %d, loss %.4f", p.Epoch, p.MaxEpochs, p.Step, p.Loss)
	if runErr != nil {
		subject = fmt.Sprintf("ordino: run %q failed", e.cfg.Run)
		body = runErr.Error()
	}
	if err := alert.NewEmail(e.cfg.Alert).Alert(subject, body); err != nil {
		e.logger.Warn("failed to send run alert", "err", err)
	}
}

// TrainJob wraps the training run as a submittable job. The job is keyed
// by run name and experiment configuration, so a scheduler deduplicates
// repeated submissions of the same experiment and a changed configuration
// schedules a fresh one.
func (e *Experiment) TrainJob() jobs.Job {
	return jobs.NewFuncJob(e.cfg.Run, e.cfg, func(ctx context.Context, dir string) error {
		return e.Train(ctx)
	})
}

// buildModel constructs the configured scorer. Dual encoders share one
// tokenizer so query and document tokens agree.
func (e *Experiment) buildModel() (scorer.Trainable, error) {
	m := e.cfg.Model
	switch m.Kind {
	case "dual":
		tok, err := encoder.NewTokenizer(m.VocabSize)
		if err != nil {
			return nil, err
		}
		docs, err := encoder.NewBag("doc", tok, m.Dim)
		if err != nil {
			return nil, err
		}
		queries, err := encoder.NewBag("query", tok, m.Dim)
		if err != nil {
			return nil, err
		}
		return scorer.NewDual(docs, queries, scorer.Similarity(m.Similarity))
	case "cross":
		return scorer.NewCross(scorer.CrossConfig{VocabSize: m.VocabSize, Dim: m.Dim, Hidden: m.Hidden})
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", letor.ErrConfiguration, m.Kind)
	}
}

// scorerFactory builds fresh initialized scorers for loading retained
// snapshots into. Initialization is deterministic per experiment seed, so
// shapes always match the snapshots this experiment wrote.
func (e *Experiment) scorerFactory() func() (scorer.Trainable, error) {
	return func() (scorer.Trainable, error) {
		model, err := e.buildModel()
		if err != nil {
			return nil, err
		}
		if err := model.Initialize(e.random.Derive("scorer")); err != nil {
			return nil, err
		}
		return model, nil
	}
}

// buildSource assembles the batch source: the triple stream over the
// training topics, optionally augmented with in-batch negatives and
// prefetching.
func (e *Experiment) buildSource(topics []types.Query, store index.Store) (sampler.BatchSource, error) {
	if e.cfg.Data.Triples == "" {
		return nil, fmt.Errorf("%w: no triples configured", letor.ErrConfiguration)
	}
	triplet, err := sampler.NewTriplet(e.cfg.Data.Triples, topics, store, e.logger)
	if err != nil {
		return nil, err
	}
	var source sampler.Sampler = triplet
	if e.cfg.Training.Prefetch > 0 {
		prefetched, err := sampler.NewPrefetched(source, e.cfg.Training.Prefetch)
		if err != nil {
			return nil, err
		}
		source = prefetched
	}
	if e.cfg.Training.InBatchNegatives {
		return sampler.NewInBatchNegatives(source)
	}
	return sampler.NewBatched(source)
}

// buildOptimizer assembles the module optimizer: one group covering every
// parameter. Callers needing per-module learning rates compose
// learner.Config directly.
func (e *Experiment) buildOptimizer() (*optim.ModuleOptimizer, error) {
	t := e.cfg.Training
	var inner optim.Inner
	switch t.Optimizer {
	case "sgd":
		inner = optim.NewSGD(t.LearningRate)
	case "", "adam":
		inner = optim.NewAdam(t.LearningRate)
	case "adamw":
		inner = optim.NewAdamW(t.LearningRate, t.WeightDecay)
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", letor.ErrConfiguration, t.Optimizer)
	}
	schedule, err := e.buildSchedule()
	if err != nil {
		return nil, err
	}
	return optim.NewModuleOptimizer(schedule, optim.Group{Inner: inner})
}

func (e *Experiment) buildSchedule() (optim.Schedule, error) {
	t := e.cfg.Training
	total := t.TotalSteps
	if total <= 0 {
		total = t.MaxEpochs * t.StepsPerEpoch
	}
	switch t.Schedule {
	case "", "constant":
		return optim.ConstantSchedule{}, nil
	case "linear":
		return optim.LinearWithWarmup{Warmup: t.WarmupSteps, Total: total}, nil
	case "cosine":
		return optim.CosineWithWarmup{Warmup: t.WarmupSteps, Total: total}, nil
	default:
		return nil, fmt.Errorf("%w: unknown schedule %q", letor.ErrConfiguration, t.Schedule)
	}
}

// buildValidation assembles the validation listener: the two-stage
// pipeline re-ranking with the live training model, the configured
// evaluator, and the monitored measures with their keep-best flags.
func (e *Experiment) buildValidation(topics []types.Query, qrels dataset.Qrels, model scorer.Trainable, store index.Store, manager *learner.Manager) (*learner.Validation, error) {
	cfg := e.cfg
	fulltext, err := e.openFulltext()
	if err != nil {
		return nil, err
	}
	pipeline, err := retrieval.NewTwoStage(fulltext, model, store, retrieval.TwoStageConfig{
		Candidates:  cfg.Retrieval.K,
		BatchSize:   cfg.Retrieval.Batch,
		Parallelism: cfg.Validation.Parallelism,
	})
	if err != nil {
		return nil, err
	}
	monitored, err := e.monitoredMeasures()
	if err != nil {
		return nil, err
	}
	evaluator, err := e.buildEvaluator()
	if err != nil {
		return nil, err
	}
	return learner.NewValidation(learner.ValidationConfig{
		Interval:    cfg.Validation.Interval,
		Topics:      topics,
		Qrels:       qrels,
		Retriever:   pipeline,
		Model:       model,
		Evaluator:   evaluator,
		Measures:    monitored,
		Depth:       cfg.Validation.Depth,
		Parallelism: cfg.Validation.Parallelism,
		Manager:     manager,
		Factory:     e.scorerFactory(),
		Logger:      e.logger,
	})
}

// monitoredMeasures parses the configured validation measures and marks
// the keep-best ones. Keep-best names are parsed too, so "RR@10" in one
// list matches "rr@10" in the other.
func (e *Experiment) monitoredMeasures() ([]learner.Monitored, error) {
	measures, err := evaluation.ParseMeasures(e.cfg.Validation.Measures)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(e.cfg.Validation.KeepBest))
	for _, name := range e.cfg.Validation.KeepBest {
		m, err := evaluation.ParseMeasure(name)
		if err != nil {
			return nil, err
		}
		keep[m.String()] = true
	}
	monitored := make([]learner.Monitored, len(measures))
	for i, m := range measures {
		monitored[i] = learner.Monitored{Measure: m, KeepBest: keep[m.String()]}
	}
	return monitored, nil
}
