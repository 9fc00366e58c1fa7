package sampler

import (
	"context"
	"fmt"
	"sync"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Prefetcher pulls records from an iterator ahead of the consumer
// through a bounded channel. A single producer goroutine preserves the
// emission order exactly, and Cursor always reflects the last record the
// consumer actually received, never the producer's read-ahead.
type Prefetcher struct {
	inner PairwiseIterator
	depth int

	mu       sync.Mutex
	ch       chan prefetched
	cancel   context.CancelFunc
	done     chan struct{}
	consumed Cursor
}

type prefetched struct {
	record letor.PairwiseRecord
	cursor Cursor
	err    error
}

// NewPrefetcher wraps an iterator with a read-ahead of depth records.
func NewPrefetcher(inner PairwiseIterator, depth int) *Prefetcher {
	if depth <= 0 {
		depth = 64
	}
	return &Prefetcher{inner: inner, depth: depth, consumed: inner.Cursor()}
}

func (p *Prefetcher) start() {
	pctx, cancel := context.WithCancel(context.Background())
	ch := make(chan prefetched, p.depth)
	done := make(chan struct{})
	p.ch, p.cancel, p.done = ch, cancel, done

	go func() {
		defer close(done)
		defer close(ch)
		for {
			rec, err := p.inner.Next(pctx)
			item := prefetched{record: rec, cursor: p.inner.Cursor(), err: err}
			select {
			case ch <- item:
			case <-pctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (p *Prefetcher) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	for range p.ch {
		// Drain so the producer can exit.
	}
	<-p.done
	p.ch, p.cancel, p.done = nil, nil, nil
}

// Next implements PairwiseIterator.
func (p *Prefetcher) Next(ctx context.Context) (letor.PairwiseRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		p.start()
	}
	select {
	case item, ok := <-p.ch:
		if !ok {
			// Producer stopped; surface its terminal error on the next read.
			rec, err := p.inner.Next(ctx)
			return rec, err
		}
		if item.err != nil {
			return letor.PairwiseRecord{}, item.err
		}
		p.consumed = item.cursor
		return item.record, nil
	case <-ctx.Done():
		return letor.PairwiseRecord{}, ctx.Err()
	}
}

// Cursor implements PairwiseIterator.
func (p *Prefetcher) Cursor() Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed
}

// Restore implements PairwiseIterator. Read-ahead records past the
// cursor are discarded and production restarts from the new position.
func (p *Prefetcher) Restore(ctx context.Context, c Cursor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
	if err := p.inner.Restore(ctx, c); err != nil {
		return err
	}
	p.consumed = c
	return nil
}

// Close implements PairwiseIterator.
func (p *Prefetcher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
	return p.inner.Close()
}

// Prefetched lifts the wrapper to the sampler level, so prefetching
// composes with Batched and the trainer never sees the difference.
type Prefetched struct {
	inner Sampler
	depth int
}

// NewPrefetched wraps a sampler; every iterator it produces reads ahead
// by depth records.
func NewPrefetched(inner Sampler, depth int) (*Prefetched, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: prefetching requires an inner sampler", letor.ErrConfiguration)
	}
	return &Prefetched{inner: inner, depth: depth}, nil
}

// Initialize implements Sampler.
func (p *Prefetched) Initialize(rnd *letor.Random) error {
	return p.inner.Initialize(rnd)
}

// Iterate implements Sampler.
func (p *Prefetched) Iterate(ctx context.Context) (PairwiseIterator, error) {
	it, err := p.inner.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	return NewPrefetcher(it, p.depth), nil
}
