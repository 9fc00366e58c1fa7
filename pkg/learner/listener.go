package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/evaluation"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/retrieval"
	"github.com/soundprediction/ordino/pkg/scorer"
	"github.com/soundprediction/ordino/pkg/types"
)

// Listener is invoked by the learner after every completed epoch. Its
// serialized state travels inside the checkpoint manifest, so whatever a
// listener tracks survives a resume.
type Listener interface {
	Name() string
	OnEpoch(ctx context.Context, tc *letor.Context) error
	State() ([]byte, error)
	LoadState(raw []byte) error
}

// Monitored is one measure the validation stage watches. KeepBest retains
// a parameter snapshot whenever the measure improves; without it the
// measure is computed and reported only.
type Monitored struct {
	Measure  evaluation.Measure
	KeepBest bool
}

// BestMetric records the best value seen for a monitored measure and the
// epoch that produced it.
type BestMetric struct {
	Value float64 `json:"value"`
	Epoch int64   `json:"epoch"`
}

// ValidationConfig assembles a validation listener.
type ValidationConfig struct {
	// Interval is the number of epochs between validations. Defaults to 1.
	Interval int64
	// Topics is the held-out query set.
	Topics []types.Query
	// Qrels are the assessments for Topics.
	Qrels dataset.Qrels
	// Retriever is the full pipeline under evaluation, re-ranking with the
	// live training scorer in inference mode.
	Retriever retrieval.Retriever
	// Model is the scorer being trained; its parameters are snapshotted on
	// improvement.
	Model scorer.Trainable
	// Evaluator computes the measures.
	Evaluator evaluation.Evaluator
	// Measures to compute, each with its keep-best flag.
	Measures []Monitored
	// Depth is the ranking depth per topic. Defaults to 100.
	Depth int
	// Parallelism bounds concurrent topic rankings. Defaults to 4.
	Parallelism int
	// Manager persists best-model snapshots. Run files are written next to
	// its checkpoints when RunDir is empty.
	Manager *Manager
	// RunDir overrides where run files are written.
	RunDir string
	// RunTag tags run file lines. Defaults to "validation".
	RunTag string
	// Factory builds a fresh initialized scorer for GetScorer. Optional;
	// without it retained models can only be inspected on disk.
	Factory func() (scorer.Trainable, error)
	Logger  *slog.Logger
}

func (cfg *ValidationConfig) setDefaults() error {
	if len(cfg.Topics) == 0 {
		return fmt.Errorf("%w: validation needs held-out topics", letor.ErrConfiguration)
	}
	if len(cfg.Qrels) == 0 {
		return fmt.Errorf("%w: validation needs assessments", letor.ErrConfiguration)
	}
	if cfg.Retriever == nil || cfg.Model == nil || cfg.Evaluator == nil || cfg.Manager == nil {
		return fmt.Errorf("%w: validation needs retriever, model, evaluator and checkpoint manager", letor.ErrConfiguration)
	}
	if len(cfg.Measures) == 0 {
		return fmt.Errorf("%w: validation needs at least one measure", letor.ErrConfiguration)
	}
	if cfg.Interval < 1 {
		cfg.Interval = 1
	}
	if cfg.Depth < 1 {
		cfg.Depth = 100
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 4
	}
	if cfg.RunDir == "" {
		cfg.RunDir = filepath.Join(cfg.Manager.Dir(), "runs")
	}
	if cfg.RunTag == "" {
		cfg.RunTag = "validation"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// Validation re-ranks a held-out topic set every Interval epochs, records
// the configured measures as metrics, and retains the best parameters per
// keep-best measure. It never mutates the training scorer: ranking runs in
// inference mode and snapshots copy parameter values.
type Validation struct {
	cfg  ValidationConfig
	best map[string]BestMetric
}

// NewValidation returns a validation listener.
func NewValidation(cfg ValidationConfig) (*Validation, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	for _, mon := range cfg.Measures {
		if err := validateSnapshotName(mon.Measure.String()); err != nil {
			return nil, fmt.Errorf("%w: measure %q", letor.ErrConfiguration, mon.Measure.String())
		}
	}
	if err := os.MkdirAll(cfg.RunDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Validation{cfg: cfg, best: make(map[string]BestMetric)}, nil
}

// Name implements Listener.
func (v *Validation) Name() string { return "validation" }

// Monitored returns the names of the measures a best model is retained
// for, sorted.
func (v *Validation) Monitored() []string {
	var names []string
	for _, mon := range v.cfg.Measures {
		if mon.KeepBest {
			names = append(names, mon.Measure.String())
		}
	}
	sort.Strings(names)
	return names
}

// Best returns the best value seen for a measure.
func (v *Validation) Best(measure string) (BestMetric, bool) {
	b, ok := v.best[measure]
	return b, ok
}

// OnEpoch runs a validation pass when the epoch is due: rank the held-out
// topics, write the run file, evaluate, record each measure under
// "val-<measure>", and snapshot parameters for improved keep-best
// measures.
func (v *Validation) OnEpoch(ctx context.Context, tc *letor.Context) error {
	epoch := tc.Epoch()
	if epoch%v.cfg.Interval != 0 {
		return nil
	}

	run, err := evaluation.BuildRun(ctx, v.cfg.Retriever, v.cfg.Topics, v.cfg.Depth, v.cfg.Parallelism)
	if err != nil {
		return fmt.Errorf("validation ranking at epoch %d failed: %w", epoch, err)
	}
	runPath := filepath.Join(v.cfg.RunDir, fmt.Sprintf("epoch-%04d.run", epoch))
	if err := evaluation.WriteRunFile(runPath, run, v.cfg.RunTag); err != nil {
		return err
	}

	measures := make([]evaluation.Measure, len(v.cfg.Measures))
	keepBest := make(map[string]bool, len(v.cfg.Measures))
	for i, mon := range v.cfg.Measures {
		measures[i] = mon.Measure
		keepBest[mon.Measure.String()] = mon.KeepBest
	}
	results, err := v.cfg.Evaluator.Evaluate(ctx, run, v.cfg.Qrels, measures)
	if err != nil {
		return fmt.Errorf("validation at epoch %d failed: %w", epoch, err)
	}

	for _, res := range results {
		tc.Metrics().Add("val-"+res.Measure, res.Mean, 1)
		v.cfg.Logger.Info("validation measure",
			"epoch", epoch, "measure", res.Measure, "value", res.Mean)
		if !keepBest[res.Measure] {
			continue
		}
		cur, seen := v.best[res.Measure]
		if seen && res.Mean <= cur.Value {
			continue
		}
		if err := v.cfg.Manager.SaveSnapshot(res.Measure, v.cfg.Model.Parameters()); err != nil {
			return fmt.Errorf("failed to retain best model for %s: %w", res.Measure, err)
		}
		v.best[res.Measure] = BestMetric{Value: res.Mean, Epoch: epoch}
		v.cfg.Logger.Info("new best model retained",
			"epoch", epoch, "measure", res.Measure, "value", res.Mean)
	}
	return nil
}

// GetScorer loads the retained best model for a measure into a fresh
// scorer built by the configured factory. It is how an evaluation stage
// obtains the selected model instead of the final-epoch one.
func (v *Validation) GetScorer(measure string) (scorer.Trainable, error) {
	if v.cfg.Factory == nil {
		return nil, fmt.Errorf("%w: no scorer factory configured", letor.ErrConfiguration)
	}
	if _, ok := v.best[measure]; !ok {
		return nil, fmt.Errorf("no best model retained for measure %q", measure)
	}
	model, err := v.cfg.Factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build scorer for %s: %w", measure, err)
	}
	if err := v.cfg.Manager.LoadSnapshot(measure, model.Parameters()); err != nil {
		return nil, err
	}
	return model, nil
}

// State implements Listener: the best-metric bookkeeping.
func (v *Validation) State() ([]byte, error) {
	return json.Marshal(v.best)
}

// LoadState implements Listener.
func (v *Validation) LoadState(raw []byte) error {
	best := make(map[string]BestMetric)
	if err := json.Unmarshal(raw, &best); err != nil {
		return fmt.Errorf("failed to decode validation state: %w", err)
	}
	v.best = best
	return nil
}
