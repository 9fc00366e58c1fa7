// Package jobs submits experiment stages (training runs, evaluations,
// index builds) as asynchronous jobs whose outputs are addressable by a
// stable identity, so downstream stages can reference results and finished
// work is never redone.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Job is a named unit of work. Its parameters determine its identity: two
// jobs with the same name and parameters produce the same output directory
// and are executed at most once.
type Job interface {
	Name() string
	// Params returns the YAML-serializable parameters the job's signature
	// is derived from. Everything that changes the output belongs here.
	Params() any
	// Run executes the job, writing all output under dir.
	Run(ctx context.Context, dir string) error
}

// Requirements declares the resources a job needs. Schedulers may use
// them for placement; the local scheduler records them.
type Requirements struct {
	CPU      int
	GPU      int
	MemoryMB int64
}

func (r Requirements) validate() error {
	if r.CPU < 0 || r.GPU < 0 || r.MemoryMB < 0 {
		return fmt.Errorf("%w: negative resource requirement %+v", letor.ErrConfiguration, r)
	}
	return nil
}

// Signature derives a job's stable identity: SHA-256 over its name and
// the canonical YAML rendering of its parameters.
func Signature(job Job) (string, error) {
	raw, err := yaml.Marshal(job.Params())
	if err != nil {
		return "", fmt.Errorf("failed to serialize parameters of job %s: %w", job.Name(), err)
	}
	h := sha256.New()
	h.Write([]byte(job.Name()))
	h.Write([]byte{'\n'})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Receipt identifies a submitted job and reports its completion.
type Receipt struct {
	// ID identifies the execution that produced (or is producing) the
	// output. Re-submitting a completed job returns the original ID.
	ID string
	// Name and Signature identify the job.
	Name      string
	Signature string
	// Dir is the job's stable output directory.
	Dir string

	done chan struct{}
	err  error
}

// Done is closed once the job has finished, successfully or not.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Err returns the job's outcome. Only valid after Done is closed.
func (r *Receipt) Err() error { return r.err }

// Wait blocks until the job finishes or the context is cancelled.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler runs jobs asynchronously.
type Scheduler interface {
	Submit(ctx context.Context, job Job, req Requirements) (*Receipt, error)
}

// FuncJob adapts a closure into a Job.
type FuncJob struct {
	JobName   string
	JobParams any
	RunFunc   func(ctx context.Context, dir string) error
}

// NewFuncJob builds a job from a name, its identity parameters and a run
// function.
func NewFuncJob(name string, params any, run func(ctx context.Context, dir string) error) *FuncJob {
	return &FuncJob{JobName: name, JobParams: params, RunFunc: run}
}

// Name implements Job.
func (j *FuncJob) Name() string { return j.JobName }

// Params implements Job.
func (j *FuncJob) Params() any { return j.JobParams }

// Run implements Job.
func (j *FuncJob) Run(ctx context.Context, dir string) error { return j.RunFunc(ctx, dir) }
