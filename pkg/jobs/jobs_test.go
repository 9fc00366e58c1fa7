package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/letor"
)

type indexParams struct {
	Corpus string `yaml:"corpus"`
	Depth  int    `yaml:"depth"`
}

func TestSignatureStability(t *testing.T) {
	a1, err := Signature(NewFuncJob("index", indexParams{Corpus: "msmarco", Depth: 10}, nil))
	require.NoError(t, err)
	a2, err := Signature(NewFuncJob("index", indexParams{Corpus: "msmarco", Depth: 10}, nil))
	require.NoError(t, err)
	assert.Equal(t, a1, a2, "same name and parameters, same identity")
	assert.Len(t, a1, 64)

	b, err := Signature(NewFuncJob("index", indexParams{Corpus: "msmarco", Depth: 20}, nil))
	require.NoError(t, err)
	assert.NotEqual(t, a1, b, "parameters are part of the identity")

	c, err := Signature(NewFuncJob("train", indexParams{Corpus: "msmarco", Depth: 10}, nil))
	require.NoError(t, err)
	assert.NotEqual(t, a1, c, "the name is part of the identity")
}

func TestLocalSchedulerRunsAndDedupes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalScheduler(dir, 2, nil)
	require.NoError(t, err)

	var runs atomic.Int32
	job := NewFuncJob("train", indexParams{Corpus: "msmarco", Depth: 10}, func(_ context.Context, jobDir string) error {
		runs.Add(1)
		return os.WriteFile(filepath.Join(jobDir, "out.txt"), []byte("ok"), 0644)
	})

	r, err := s.Submit(ctx, job, Requirements{CPU: 1})
	require.NoError(t, err)
	require.NoError(t, r.Wait(ctx))
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, "train", r.Name)
	assert.NotEmpty(t, r.ID)

	sig, err := Signature(job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "jobs", "train", sig), r.Dir)
	assert.FileExists(t, filepath.Join(r.Dir, "out.txt"))
	assert.FileExists(t, filepath.Join(r.Dir, doneFile))

	// Re-submission finds the done marker and runs nothing.
	again, err := s.Submit(ctx, job, Requirements{})
	require.NoError(t, err)
	require.NoError(t, again.Wait(ctx))
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, r.ID, again.ID, "the original execution stays addressable")
	assert.Equal(t, r.Dir, again.Dir)
}

func TestLocalSchedulerDedupesInFlight(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalScheduler(t.TempDir(), 2, nil)
	require.NoError(t, err)

	var runs atomic.Int32
	release := make(chan struct{})
	job := NewFuncJob("slow", 1, func(context.Context, string) error {
		runs.Add(1)
		<-release
		return nil
	})

	first, err := s.Submit(ctx, job, Requirements{})
	require.NoError(t, err)
	second, err := s.Submit(ctx, job, Requirements{})
	require.NoError(t, err)
	assert.Same(t, first, second, "a running signature is submitted once")

	close(release)
	require.NoError(t, first.Wait(ctx))
	assert.Equal(t, int32(1), runs.Load())
}

func TestLocalSchedulerFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalScheduler(t.TempDir(), 1, nil)
	require.NoError(t, err)

	jobErr := errors.New("index unavailable")
	var runs atomic.Int32
	job := NewFuncJob("flaky", 1, func(context.Context, string) error {
		if runs.Add(1) == 1 {
			return jobErr
		}
		return nil
	})

	first, err := s.Submit(ctx, job, Requirements{})
	require.NoError(t, err)
	require.ErrorIs(t, first.Wait(ctx), jobErr)
	assert.NoFileExists(t, filepath.Join(first.Dir, doneFile))

	// A failed job is not a completed one: submitting again re-runs it.
	second, err := s.Submit(ctx, job, Requirements{})
	require.NoError(t, err)
	require.NoError(t, second.Wait(ctx))
	assert.Equal(t, int32(2), runs.Load())
	assert.FileExists(t, filepath.Join(second.Dir, doneFile))
}

func TestLocalSchedulerBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalScheduler(t.TempDir(), 1, nil)
	require.NoError(t, err)

	var current, peak atomic.Int32
	work := func(context.Context, string) error {
		cur := current.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		current.Add(-1)
		return nil
	}

	a, err := s.Submit(ctx, NewFuncJob("a", 1, work), Requirements{})
	require.NoError(t, err)
	b, err := s.Submit(ctx, NewFuncJob("b", 1, work), Requirements{})
	require.NoError(t, err)
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))
	assert.Equal(t, int32(1), peak.Load())
}

func TestLocalSchedulerCancelledWhileQueued(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalScheduler(t.TempDir(), 1, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	holder, err := s.Submit(ctx, NewFuncJob("holder", 1, func(context.Context, string) error {
		close(started)
		<-release
		return nil
	}), Requirements{})
	require.NoError(t, err)
	<-started

	queuedCtx, cancel := context.WithCancel(ctx)
	queued, err := s.Submit(queuedCtx, NewFuncJob("queued", 1, func(context.Context, string) error {
		return nil
	}), Requirements{})
	require.NoError(t, err)

	cancel()
	require.ErrorIs(t, queued.Wait(ctx), context.Canceled)

	close(release)
	require.NoError(t, holder.Wait(ctx))
}

func TestLocalSchedulerIgnoresCorruptMarker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalScheduler(dir, 1, nil)
	require.NoError(t, err)

	var runs atomic.Int32
	job := NewFuncJob("rebuild", 1, func(context.Context, string) error {
		runs.Add(1)
		return nil
	})
	sig, err := Signature(job)
	require.NoError(t, err)
	jobDir := filepath.Join(dir, "jobs", "rebuild", sig)
	require.NoError(t, os.MkdirAll(jobDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, doneFile), []byte("not json"), 0644))

	r, err := s.Submit(ctx, job, Requirements{})
	require.NoError(t, err)
	require.NoError(t, r.Wait(ctx))
	assert.Equal(t, int32(1), runs.Load(), "an unreadable marker does not count as done")
}

func TestSchedulerValidation(t *testing.T) {
	_, err := NewLocalScheduler("", 1, nil)
	require.ErrorIs(t, err, letor.ErrConfiguration)

	s, err := NewLocalScheduler(t.TempDir(), 1, nil)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), NewFuncJob("x", 1, nil), Requirements{CPU: -1})
	require.ErrorIs(t, err, letor.ErrConfiguration)
}
