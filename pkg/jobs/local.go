package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/ordino/pkg/letor"
)

// doneMarker is written into a job directory once the job succeeds. Its
// presence makes re-submission a no-op.
type doneMarker struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finished_at"`
}

const doneFile = ".done"

// LocalScheduler executes jobs in-process with bounded concurrency. Job
// outputs land under <dir>/jobs/<name>/<signature>; a completed job is
// never re-run, in this process (in-flight dedupe) or a later one (done
// marker).
type LocalScheduler struct {
	dir       string
	logger    *slog.Logger
	semaphore chan struct{}

	mu     sync.Mutex
	active map[string]*Receipt
}

// NewLocalScheduler creates a scheduler writing under dir, running at
// most maxConcurrent jobs at once (<= 0 means one at a time).
func NewLocalScheduler(dir string, maxConcurrent int, logger *slog.Logger) (*LocalScheduler, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: scheduler needs a working directory", letor.ErrConfiguration)
	}
	if err := os.MkdirAll(filepath.Join(dir, "jobs"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalScheduler{
		dir:       dir,
		logger:    logger,
		semaphore: make(chan struct{}, maxConcurrent),
		active:    make(map[string]*Receipt),
	}, nil
}

// Submit schedules a job for execution and returns immediately. If the
// job's signature is already running, the existing receipt is returned;
// if it already completed, a pre-completed receipt carrying the original
// execution ID is returned and nothing runs.
func (s *LocalScheduler) Submit(ctx context.Context, job Job, req Requirements) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	sig, err := Signature(job)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.dir, "jobs", job.Name(), sig)
	key := job.Name() + "/" + sig

	s.mu.Lock()
	if r, ok := s.active[key]; ok {
		s.mu.Unlock()
		return r, nil
	}
	if marker, ok := readDoneMarker(dir); ok {
		s.mu.Unlock()
		r := &Receipt{ID: marker.ID, Name: job.Name(), Signature: sig, Dir: dir, done: make(chan struct{})}
		close(r.done)
		s.logger.Debug("job already complete", "name", job.Name(), "signature", sig)
		return r, nil
	}
	r := &Receipt{ID: uuid.New().String(), Name: job.Name(), Signature: sig, Dir: dir, done: make(chan struct{})}
	s.active[key] = r
	s.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	go s.run(ctx, job, req, r, key)
	return r, nil
}

func (s *LocalScheduler) run(ctx context.Context, job Job, req Requirements, r *Receipt, key string) {
	defer func() {
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
		close(r.done)
	}()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		r.err = ctx.Err()
		return
	}

	s.logger.Info("job started",
		"name", job.Name(), "signature", r.Signature, "id", r.ID,
		"cpu", req.CPU, "gpu", req.GPU, "memory_mb", req.MemoryMB)
	start := time.Now()

	if err := job.Run(ctx, r.Dir); err != nil {
		r.err = fmt.Errorf("job %s failed: %w", job.Name(), err)
		s.logger.Error("job failed", "name", job.Name(), "signature", r.Signature, "err", err)
		return
	}

	marker, err := json.Marshal(doneMarker{ID: r.ID, FinishedAt: time.Now().UTC()})
	if err == nil {
		err = os.WriteFile(filepath.Join(r.Dir, doneFile), marker, 0644)
	}
	if err != nil {
		r.err = fmt.Errorf("failed to mark job %s done: %w", job.Name(), err)
		return
	}
	s.logger.Info("job complete",
		"name", job.Name(), "signature", r.Signature, "duration", time.Since(start))
}

// readDoneMarker reports whether the job directory carries a valid done
// marker. An unreadable marker counts as not done, so the job re-runs.
func readDoneMarker(dir string) (doneMarker, bool) {
	raw, err := os.ReadFile(filepath.Join(dir, doneFile))
	if err != nil {
		return doneMarker{}, false
	}
	var marker doneMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return doneMarker{}, false
	}
	return marker, true
}
