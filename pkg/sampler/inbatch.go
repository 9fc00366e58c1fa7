package sampler

import (
	"context"
	"fmt"

	"github.com/soundprediction/ordino/pkg/letor"
)

// InBatchNegatives replaces each record's negative with the positive of
// the next record in the same batch (rotation by one). The rotation is a
// pure function of the batch, so cursors of the wrapped sampler keep
// determining the sequence and resume stays exact.
type InBatchNegatives struct {
	inner Sampler
}

// NewInBatchNegatives wraps a record sampler.
func NewInBatchNegatives(inner Sampler) (*InBatchNegatives, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: in-batch negatives require an inner sampler", letor.ErrConfiguration)
	}
	return &InBatchNegatives{inner: inner}, nil
}

// Initialize implements BatchSource.
func (s *InBatchNegatives) Initialize(rnd *letor.Random) error {
	return s.inner.Initialize(rnd)
}

// BatchIterate implements BatchSource. Rotation needs at least two
// records per batch; a batch of one would make a document its own
// negative.
func (s *InBatchNegatives) BatchIterate(ctx context.Context, size int) (BatchIterator, error) {
	if size < 2 {
		return nil, fmt.Errorf("%w: in-batch negatives need batch size >= 2, got %d", letor.ErrConfiguration, size)
	}
	it, err := s.inner.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	return &inBatchIterator{chunkIterator{it: it, size: size}}, nil
}

type inBatchIterator struct {
	chunkIterator
}

func (it *inBatchIterator) Next(ctx context.Context) (letor.Batch, error) {
	batch, err := it.chunkIterator.Next(ctx)
	if err != nil {
		return nil, err
	}
	rotated := make(letor.Batch, len(batch))
	for i, rec := range batch {
		rec.Negative = batch[(i+1)%len(batch)].Positive
		rotated[i] = rec
	}
	return rotated, nil
}
