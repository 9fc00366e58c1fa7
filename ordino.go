package ordino

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/soundprediction/ordino/pkg/config"
	"github.com/soundprediction/ordino/pkg/evaluation"
	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/jobs"
	"github.com/soundprediction/ordino/pkg/learner"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/retrieval"
)

// Ordino is the main interface for driving learning-to-rank experiments.
// An experiment owns a document store, a full-text index and a run
// directory, and moves through three stages: indexing the corpus,
// training a neural scorer on pairwise triples, and evaluating the
// trained model against a test collection.
type Ordino interface {
	// BuildIndex ingests the configured corpus into the document store
	// and builds the full-text index over it. It returns the number of
	// documents ingested.
	BuildIndex(ctx context.Context) (int64, error)

	// Train runs the configured training loop to completion, resuming
	// from the last checkpoint when the run directory already holds one.
	Train(ctx context.Context) error

	// TrainJob wraps the training run as a submittable job keyed by the
	// experiment configuration.
	TrainJob() jobs.Job

	// Evaluate ranks a test collection with a trained model and reports
	// the configured measures.
	Evaluate(ctx context.Context, opts *EvaluateOptions) (*evaluation.Report, error)

	// Baseline ranks a test collection with the configured LLM relevance
	// scorer, without any training state.
	Baseline(ctx context.Context, opts *EvaluateOptions) (*evaluation.Report, error)

	// Progress reports the state of the live training run.
	Progress() learner.Progress

	// Close releases the document store and the full-text index.
	Close() error
}

// Experiment is the main implementation of the Ordino interface. It wires
// the configured components together and shares the expensive resources
// (document store, full-text index) across stages.
type Experiment struct {
	cfg    *config.Config
	logger *slog.Logger
	random *letor.Random

	mu       sync.Mutex
	store    index.Store
	fulltext *retrieval.Bleve
	run      *learner.Learner
}

// NewExperiment creates an experiment rooted at the configured directory.
// The directory is created if needed; everything the experiment writes
// (store, index, checkpoints, run files, telemetry) lives under it unless
// the configuration points elsewhere.
func NewExperiment(cfg *config.Config, logger *slog.Logger) (*Experiment, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: experiment needs a configuration", letor.ErrConfiguration)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: experiment needs a working directory", letor.ErrConfiguration)
	}
	if cfg.Run == "" {
		cfg.Run = "train"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory: %w", err)
	}
	return &Experiment{
		cfg:    cfg,
		logger: logger,
		random: letor.NewRandom(cfg.Training.Seed),
	}, nil
}

// GetConfig returns the experiment configuration.
func (e *Experiment) GetConfig() *config.Config { return e.cfg }

// GetRandom returns the experiment's root random generator. Components
// derive their own streams from it by name.
func (e *Experiment) GetRandom() *letor.Random { return e.random }

// runDir is where checkpoints, best snapshots and run files live.
func (e *Experiment) runDir() string {
	return filepath.Join(e.cfg.Dir, "runs", e.cfg.Run)
}

func (e *Experiment) storePath() string {
	if e.cfg.Data.StorePath != "" {
		return e.cfg.Data.StorePath
	}
	return filepath.Join(e.cfg.Dir, "store")
}

func (e *Experiment) indexPath() string {
	if e.cfg.Data.IndexPath != "" {
		return e.cfg.Data.IndexPath
	}
	return filepath.Join(e.cfg.Dir, "index")
}

func (e *Experiment) telemetryDir() string {
	if e.cfg.Telemetry.Dir != "" {
		return e.cfg.Telemetry.Dir
	}
	return filepath.Join(e.cfg.Dir, "telemetry")
}

// openStore opens the document store once and shares it across stages: a
// badger store fronted by an LRU cache when Data.CacheSize is set.
func (e *Experiment) openStore() (index.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	badger, err := index.OpenBadger(e.storePath(), e.logger)
	if err != nil {
		return nil, err
	}
	var store index.Store = badger
	if e.cfg.Data.CacheSize > 0 {
		store, err = index.NewCached(badger, e.cfg.Data.CacheSize)
		if err != nil {
			badger.Close()
			return nil, err
		}
	}
	e.store = store
	return store, nil
}

// openFulltext opens the full-text index BuildIndex built.
func (e *Experiment) openFulltext() (*retrieval.Bleve, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fulltext != nil {
		return e.fulltext, nil
	}
	if _, err := os.Stat(e.indexPath()); err != nil {
		return nil, fmt.Errorf("%w: no index at %s", ErrNotIndexed, e.indexPath())
	}
	fulltext, err := retrieval.OpenBleve(e.indexPath(), e.logger)
	if err != nil {
		return nil, err
	}
	e.fulltext = fulltext
	return fulltext, nil
}

// Progress reports the state of the live training run. Before Train has
// started it is the zero Progress; after completion the Done bit is set.
// Safe to call from other goroutines, which is how the monitor serves it.
func (e *Experiment) Progress() learner.Progress {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run == nil {
		return learner.Progress{}
	}
	return run.Progress()
}

// Close releases the document store and the full-text index. Safe to call
// more than once.
func (e *Experiment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	if e.fulltext != nil {
		errs = append(errs, e.fulltext.Close())
		e.fulltext = nil
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
		e.store = nil
	}
	return errors.Join(errs...)
}

var (
	// ErrNotIndexed is returned when retrieval is attempted before
	// BuildIndex has run.
	ErrNotIndexed = errors.New("corpus not indexed")
	// ErrNotTrained is returned when evaluation finds neither a
	// checkpoint nor a retained best model for the run.
	ErrNotTrained = errors.New("no trained model available")
)
