package ordino

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/evaluation"
	"github.com/soundprediction/ordino/pkg/learner"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/retrieval"
	"github.com/soundprediction/ordino/pkg/scorer"
)

// EvaluateOptions selects what Evaluate and Baseline rank and report. The
// zero value evaluates the configured topics with the latest checkpoint
// parameters and the configured validation measures.
type EvaluateOptions struct {
	// TopicsPath overrides the configured topics file.
	TopicsPath string
	// QrelsPath overrides the configured assessments file.
	QrelsPath string
	// Measure names a keep-best measure whose retained model is evaluated
	// instead of the latest checkpoint parameters.
	Measure string
	// Measures to report. Defaults to the configured validation measures.
	Measures []string
	// Depth is the ranking depth per topic. Defaults to the validation
	// depth.
	Depth int
	// Tag names the run file and the report.
	Tag string
}

// Evaluate ranks a test collection with a trained model and reports the
// configured measures. The model is the retained best for opts.Measure
// when one is named, otherwise the parameters of the latest checkpoint.
func (e *Experiment) Evaluate(ctx context.Context, opts *EvaluateOptions) (*evaluation.Report, error) {
	if opts == nil {
		opts = &EvaluateOptions{}
	}
	model, err := e.loadTrained(opts.Measure)
	if err != nil {
		return nil, err
	}
	tag := opts.Tag
	if tag == "" {
		tag = e.cfg.Run
	}
	return e.rank(ctx, model, opts, tag)
}

// Baseline ranks a test collection with the configured LLM relevance
// scorer. No training state is involved; it is the reference point a
// trained model is compared against.
func (e *Experiment) Baseline(ctx context.Context, opts *EvaluateOptions) (*evaluation.Report, error) {
	if opts == nil {
		opts = &EvaluateOptions{}
	}
	b := e.cfg.Baseline
	if b.Provider != "" && b.Provider != "openai" {
		return nil, fmt.Errorf("%w: unknown baseline provider %q", letor.ErrConfiguration, b.Provider)
	}
	llm, err := scorer.NewOpenAI(scorer.OpenAIConfig{
		Model:          b.Model,
		APIKey:         b.APIKey,
		BaseURL:        b.BaseURL,
		MaxConcurrency: b.MaxConcurrency,
	})
	if err != nil {
		return nil, err
	}
	tag := opts.Tag
	if tag == "" {
		tag = "baseline"
	}
	return e.rank(ctx, llm, opts, tag)
}

// rank retrieves candidates for every assessed topic, re-ranks them with
// the given scorer, writes the run file under <run dir>/eval, and
// evaluates it.
func (e *Experiment) rank(ctx context.Context, reranker retrieval.Reranker, opts *EvaluateOptions, tag string) (*evaluation.Report, error) {
	cfg := e.cfg
	topicsPath := opts.TopicsPath
	if topicsPath == "" {
		topicsPath = cfg.Data.Topics
	}
	qrelsPath := opts.QrelsPath
	if qrelsPath == "" {
		qrelsPath = cfg.Data.Qrels
	}
	adhoc, err := dataset.LoadAdhoc(topicsPath, qrelsPath)
	if err != nil {
		return nil, err
	}

	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	fulltext, err := e.openFulltext()
	if err != nil {
		return nil, err
	}
	pipeline, err := retrieval.NewTwoStage(fulltext, reranker, store, retrieval.TwoStageConfig{
		Candidates:  cfg.Retrieval.K,
		BatchSize:   cfg.Retrieval.Batch,
		Parallelism: cfg.Validation.Parallelism,
	})
	if err != nil {
		return nil, err
	}

	depth := opts.Depth
	if depth <= 0 {
		depth = cfg.Validation.Depth
	}
	topics := adhoc.Assessed()
	run, err := evaluation.BuildRun(ctx, pipeline, topics, depth, cfg.Validation.Parallelism)
	if err != nil {
		return nil, err
	}

	evalDir := filepath.Join(e.runDir(), "eval")
	if err := os.MkdirAll(evalDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evaluation directory: %w", err)
	}
	runPath := filepath.Join(evalDir, tag+".run")
	if err := evaluation.WriteRunFile(runPath, run, tag); err != nil {
		return nil, err
	}

	names := opts.Measures
	if len(names) == 0 {
		names = cfg.Validation.Measures
	}
	measures, err := evaluation.ParseMeasures(names)
	if err != nil {
		return nil, err
	}
	evaluator, err := e.buildEvaluator()
	if err != nil {
		return nil, err
	}
	results, err := evaluator.Evaluate(ctx, run, adhoc.Qrels, measures)
	if err != nil {
		return nil, err
	}
	e.logger.Info("evaluation complete", "tag", tag, "topics", len(topics), "run", runPath)
	return &evaluation.Report{Tag: tag, Results: results}, nil
}

// loadTrained builds the configured model and loads trained parameters
// into it: the retained best for the named measure, or the latest
// checkpoint when measure is empty.
func (e *Experiment) loadTrained(measure string) (scorer.Trainable, error) {
	model, err := e.scorerFactory()()
	if err != nil {
		return nil, err
	}
	manager, err := learner.NewManager(e.runDir())
	if err != nil {
		return nil, err
	}
	if measure != "" {
		m, err := evaluation.ParseMeasure(measure)
		if err != nil {
			return nil, err
		}
		if err := manager.LoadSnapshot(m.String(), model.Parameters()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotTrained, err)
		}
		return model, nil
	}
	cp, err := manager.Load()
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: run %q has no checkpoint", ErrNotTrained, e.cfg.Run)
	}
	if err := learner.RestoreParams(cp.Params, model.Parameters()); err != nil {
		return nil, err
	}
	return model, nil
}

// buildEvaluator picks the measure implementation: the built-in evaluator
// or an external trec_eval binary.
func (e *Experiment) buildEvaluator() (evaluation.Evaluator, error) {
	switch e.cfg.Validation.Evaluator {
	case "", "native":
		return evaluation.Native{}, nil
	case "trec_eval":
		return evaluation.NewTrecEval(e.cfg.Validation.TrecEvalPath, e.logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown evaluator %q", letor.ErrConfiguration, e.cfg.Validation.Evaluator)
	}
}
