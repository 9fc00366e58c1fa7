package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/optim"
	"github.com/soundprediction/ordino/pkg/scorer"
	"github.com/soundprediction/ordino/pkg/telemetry"
	"github.com/soundprediction/ordino/pkg/trainer"
)

// Config assembles a learner.
type Config struct {
	// Dir is the run directory: checkpoints, best snapshots and run files
	// live under it.
	Dir string
	// Run names the run in telemetry and progress reports. Defaults to
	// "train".
	Run string
	// MaxEpochs is the total number of epochs to train. Defaults to 1000.
	MaxEpochs int64
	// StepsPerEpoch is the number of trainer steps per epoch. Defaults
	// to 128.
	StepsPerEpoch int64
	// Trainer drives one optimizer step per call.
	Trainer *trainer.Pairwise
	// Model is the scorer under training, already initialized and bound
	// to Optimizer.
	Model scorer.Trainable
	// Optimizer is the single mutation point of the model's parameters.
	Optimizer *optim.ModuleOptimizer
	// Random is the experiment's root generator.
	Random *letor.Random
	// Listeners run after every epoch, in order.
	Listeners []Listener
	// Sink receives the metric snapshot drained at each epoch boundary.
	// Optional.
	Sink   *telemetry.Sink
	Logger *slog.Logger
}

func (cfg *Config) setDefaults() error {
	if cfg.Dir == "" {
		return fmt.Errorf("%w: learner needs a run directory", letor.ErrConfiguration)
	}
	if cfg.Trainer == nil || cfg.Model == nil || cfg.Optimizer == nil || cfg.Random == nil {
		return fmt.Errorf("%w: learner needs trainer, model, optimizer and random", letor.ErrConfiguration)
	}
	if cfg.Run == "" {
		cfg.Run = "train"
	}
	if cfg.MaxEpochs < 1 {
		cfg.MaxEpochs = 1000
	}
	if cfg.StepsPerEpoch < 1 {
		cfg.StepsPerEpoch = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return nil
}

// Progress is a point-in-time view of a run for reporting.
type Progress struct {
	Run       string  `json:"run"`
	Epoch     int64   `json:"epoch"`
	MaxEpochs int64   `json:"max_epochs"`
	Step      int64   `json:"step"`
	Loss      float64 `json:"loss"`
	Accuracy  float64 `json:"accuracy"`
	Done      bool    `json:"done"`
}

// Learner owns the outer training loop: MaxEpochs epochs of StepsPerEpoch
// trainer steps each, listeners and a checkpoint after every epoch. A
// restarted learner resumes from the epoch after the last checkpoint;
// completed epochs are never re-run.
type Learner struct {
	cfg     Config
	tc      *letor.Context
	manager *Manager
	started bool

	mu   sync.Mutex
	prog Progress
}

// New builds a learner and its checkpoint manager under cfg.Dir.
func New(cfg Config) (*Learner, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	manager, err := NewManager(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return &Learner{
		cfg:     cfg,
		tc:      letor.NewContext(),
		manager: manager,
		prog:    Progress{Run: cfg.Run, MaxEpochs: cfg.MaxEpochs},
	}, nil
}

// Context returns the run's training context. Hooks (regularizers,
// distribution) must be registered on it before Run.
func (l *Learner) Context() *letor.Context { return l.tc }

// Manager returns the checkpoint manager, shared with the validation
// listener for best-model snapshots.
func (l *Learner) Manager() *Manager { return l.manager }

// Progress returns a snapshot of the run state. Safe to call from other
// goroutines (the monitor endpoint) while training runs.
func (l *Learner) Progress() Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prog
}

func (l *Learner) updateProgress(epoch int64, done bool) {
	loss, _ := l.tc.Metrics().Mean("loss")
	acc, _ := l.tc.Metrics().Mean("accuracy")
	l.mu.Lock()
	l.prog = Progress{
		Run:       l.cfg.Run,
		Epoch:     epoch,
		MaxEpochs: l.cfg.MaxEpochs,
		Step:      l.tc.Step(),
		Loss:      loss,
		Accuracy:  acc,
		Done:      done,
	}
	l.mu.Unlock()
}

// Run trains until MaxEpochs epochs have completed, resuming from the
// last checkpoint if one exists. On a fatal error the last good
// checkpoint is left intact and the failing epoch/step is logged; the
// caller restarts the run to resume. Run can be called once.
func (l *Learner) Run(ctx context.Context) error {
	if l.started {
		return fmt.Errorf("%w: learner has already run", letor.ErrConfiguration)
	}
	l.started = true

	if err := l.cfg.Trainer.Initialize(ctx, l.cfg.Random, l.cfg.Model, l.tc, l.cfg.Optimizer); err != nil {
		return err
	}

	startEpoch := int64(1)
	cp, err := l.manager.Load()
	if err != nil {
		return err
	}
	if cp != nil {
		if err := l.restore(ctx, cp); err != nil {
			return fmt.Errorf("failed to resume from checkpoint at epoch %d: %w", cp.Epoch, err)
		}
		startEpoch = cp.Epoch + 1
		l.cfg.Logger.Info("resuming run", "run", l.cfg.Run, "epoch", cp.Epoch, "step", cp.Step)
	}

	hooks, err := l.tc.DistributionHooks()
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if err := hook.Distribute(l.tc); err != nil {
			return fmt.Errorf("distribution hook %s failed: %w", hook.Name(), err)
		}
	}

	for epoch := startEpoch; epoch <= l.cfg.MaxEpochs; epoch++ {
		l.tc.SetEpoch(epoch)
		if err := l.runEpoch(ctx, epoch); err != nil {
			l.cfg.Logger.Error("run failed",
				"run", l.cfg.Run, "epoch", epoch, "step", l.tc.Step(), "err", err)
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
	}
	l.updateProgress(l.cfg.MaxEpochs, true)
	l.cfg.Logger.Info("run complete", "run", l.cfg.Run, "epochs", l.cfg.MaxEpochs, "steps", l.tc.Step())
	return nil
}

func (l *Learner) restore(ctx context.Context, cp *Checkpoint) error {
	if err := RestoreParams(cp.Params, l.cfg.Model.Parameters()); err != nil {
		return err
	}
	if len(cp.Optimizer) > 0 {
		if err := l.cfg.Optimizer.LoadState(cp.Optimizer); err != nil {
			return err
		}
	}
	if err := l.cfg.Trainer.Restore(ctx, cp.Cursor); err != nil {
		return err
	}
	for _, listener := range l.cfg.Listeners {
		raw, ok := cp.Listeners[listener.Name()]
		if !ok {
			continue
		}
		if err := listener.LoadState(raw); err != nil {
			return fmt.Errorf("listener %s: %w", listener.Name(), err)
		}
	}
	l.tc.SetEpoch(cp.Epoch)
	l.tc.SetStep(cp.Step)
	return nil
}

func (l *Learner) runEpoch(ctx context.Context, epoch int64) error {
	for s := int64(0); s < l.cfg.StepsPerEpoch; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.cfg.Trainer.TrainBatch(ctx); err != nil {
			return err
		}
		l.tc.AdvanceStep()
		l.updateProgress(epoch, false)
	}

	for _, listener := range l.cfg.Listeners {
		if err := listener.OnEpoch(ctx, l.tc); err != nil {
			return fmt.Errorf("listener %s: %w", listener.Name(), err)
		}
	}

	snapshot := l.tc.Metrics().Snapshot()
	loss, _ := l.tc.Metrics().Mean("loss")
	acc, _ := l.tc.Metrics().Mean("accuracy")
	l.cfg.Logger.Info("epoch complete",
		"run", l.cfg.Run, "epoch", epoch, "step", l.tc.Step(), "loss", loss, "accuracy", acc)
	l.updateProgress(epoch, false)
	if l.cfg.Sink != nil {
		if err := l.cfg.Sink.RecordMetrics(l.cfg.Run, epoch, l.tc.Step(), snapshot); err != nil {
			l.cfg.Logger.Warn("failed to record metrics", "epoch", epoch, "err", err)
		}
	}
	l.tc.Metrics().Reset()

	return l.checkpoint(epoch)
}

func (l *Learner) checkpoint(epoch int64) error {
	optState, err := l.cfg.Optimizer.State()
	if err != nil {
		return err
	}
	states := make(map[string]json.RawMessage, len(l.cfg.Listeners))
	for _, listener := range l.cfg.Listeners {
		raw, err := listener.State()
		if err != nil {
			return fmt.Errorf("listener %s: %w", listener.Name(), err)
		}
		states[listener.Name()] = raw
	}
	return l.manager.Save(&Checkpoint{
		Epoch:     epoch,
		Step:      l.tc.Step(),
		Cursor:    l.cfg.Trainer.Cursor(),
		Listeners: states,
		Params:    SnapshotParams(l.cfg.Model.Parameters()),
		Optimizer: optState,
	})
}
