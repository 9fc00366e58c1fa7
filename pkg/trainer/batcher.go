package trainer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Batcher partitions a full batch into micro-batches for gradient
// accumulation and hands the partition to a run callback in one piece, so
// the caller knows the accumulation count before the first micro-batch is
// scored. Concatenating the partition always reconstructs the batch in
// order.
type Batcher interface {
	Name() string
	Process(batch letor.Batch, run func(micros []letor.Batch) error) error
}

// splitMicro cuts batch into consecutive chunks of at most size records.
// size <= 0 keeps the batch whole.
func splitMicro(batch letor.Batch, size int) []letor.Batch {
	if size <= 0 || size >= len(batch) {
		return []letor.Batch{batch}
	}
	micros := make([]letor.Batch, 0, (len(batch)+size-1)/size)
	for start := 0; start < len(batch); start += size {
		end := start + size
		if end > len(batch) {
			end = len(batch)
		}
		micros = append(micros, batch[start:end])
	}
	return micros
}

// FixedBatcher always splits at the configured micro size and never
// retries.
type FixedBatcher struct {
	microSize int
}

// NewFixedBatcher returns a batcher with the given micro-batch size;
// 0 disables accumulation.
func NewFixedBatcher(microSize int) (*FixedBatcher, error) {
	if microSize < 0 {
		return nil, fmt.Errorf("%w: micro-batch size %d is negative", letor.ErrConfiguration, microSize)
	}
	return &FixedBatcher{microSize: microSize}, nil
}

func (b *FixedBatcher) Name() string { return "fixed" }

func (b *FixedBatcher) Process(batch letor.Batch, run func([]letor.Batch) error) error {
	return run(splitMicro(batch, b.microSize))
}

// PowerAdaptiveBatcher splits like FixedBatcher but reacts to resource
// exhaustion: when run fails with letor.ErrResourceExhausted it halves the
// micro size and retries once, keeping the reduced size for the rest of the
// run. A second exhaustion, or any other error, propagates unchanged.
type PowerAdaptiveBatcher struct {
	microSize int
	logger    *slog.Logger
}

// NewPowerAdaptiveBatcher returns an adaptive batcher starting at the given
// micro-batch size.
func NewPowerAdaptiveBatcher(microSize int, logger *slog.Logger) (*PowerAdaptiveBatcher, error) {
	if microSize < 0 {
		return nil, fmt.Errorf("%w: micro-batch size %d is negative", letor.ErrConfiguration, microSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PowerAdaptiveBatcher{microSize: microSize, logger: logger}, nil
}

func (b *PowerAdaptiveBatcher) Name() string { return "power-adaptive" }

func (b *PowerAdaptiveBatcher) Process(batch letor.Batch, run func([]letor.Batch) error) error {
	err := run(splitMicro(batch, b.microSize))
	if !errors.Is(err, letor.ErrResourceExhausted) {
		return err
	}
	half := b.microSize / 2
	if b.microSize == 0 {
		half = (len(batch) + 1) / 2
	}
	if half < 1 {
		return fmt.Errorf("cannot reduce micro-batch size below one record: %w", err)
	}
	b.logger.Warn("scoring exhausted resources, halving micro-batch size",
		"from", b.microSize, "to", half)
	b.microSize = half
	if err := run(splitMicro(batch, half)); err != nil {
		return fmt.Errorf("retry at micro-batch size %d failed: %w", half, err)
	}
	return nil
}
