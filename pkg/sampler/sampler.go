package sampler

import (
	"context"
	"fmt"
	"io"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Cursor is a resumable position in a record sequence. Together with the
// sampler's configuration it fully determines the continuation; cursors
// are stored in checkpoint manifests as-is.
type Cursor struct {
	// Count is the total number of records emitted.
	Count int64 `json:"count"`
	// Position is the number of records emitted in the current pass.
	Position int64 `json:"position"`
	// Loops counts completed passes over the underlying source.
	Loops int64 `json:"loops,omitempty"`
	// Offset is the byte offset into a seekable source.
	Offset int64 `json:"offset,omitempty"`
}

// PairwiseIterator walks a sampler's record sequence. Finite sequences
// end with io.EOF; training sources usually wrap around instead.
type PairwiseIterator interface {
	Next(ctx context.Context) (letor.PairwiseRecord, error)
	// Cursor returns the position after the last emitted record.
	Cursor() Cursor
	// Restore repositions the iterator; the next record is the one that
	// would have followed the cursor.
	Restore(ctx context.Context, c Cursor) error
	Close() error
}

// Sampler produces record iterators.
type Sampler interface {
	// Initialize is called once with the run's random source before any
	// iteration.
	Initialize(rnd *letor.Random) error
	Iterate(ctx context.Context) (PairwiseIterator, error)
}

// BatchIterator walks batches of records.
type BatchIterator interface {
	Next(ctx context.Context) (letor.Batch, error)
	Cursor() Cursor
	Restore(ctx context.Context, c Cursor) error
	Close() error
}

// BatchSource is what trainers bind to: anything producing batches of a
// given size.
type BatchSource interface {
	Initialize(rnd *letor.Random) error
	BatchIterate(ctx context.Context, size int) (BatchIterator, error)
}

// Batched adapts a record sampler into a BatchSource by chunking its
// iterator.
type Batched struct {
	sampler Sampler
}

// NewBatched wraps a record sampler.
func NewBatched(s Sampler) (*Batched, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: batched sampler requires an inner sampler", letor.ErrConfiguration)
	}
	return &Batched{sampler: s}, nil
}

// Initialize implements BatchSource.
func (b *Batched) Initialize(rnd *letor.Random) error {
	return b.sampler.Initialize(rnd)
}

// BatchIterate implements BatchSource.
func (b *Batched) BatchIterate(ctx context.Context, size int) (BatchIterator, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", letor.ErrConfiguration, size)
	}
	it, err := b.sampler.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	return &chunkIterator{it: it, size: size}, nil
}

// chunkIterator groups consecutive records into batches. A trailing
// partial batch of a finite sequence is emitted before io.EOF.
type chunkIterator struct {
	it   PairwiseIterator
	size int
}

func (c *chunkIterator) Next(ctx context.Context) (letor.Batch, error) {
	batch := make(letor.Batch, 0, c.size)
	for len(batch) < c.size {
		rec, err := c.it.Next(ctx)
		if err == io.EOF {
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

func (c *chunkIterator) Cursor() Cursor { return c.it.Cursor() }

func (c *chunkIterator) Restore(ctx context.Context, cur Cursor) error {
	return c.it.Restore(ctx, cur)
}

func (c *chunkIterator) Close() error { return c.it.Close() }
