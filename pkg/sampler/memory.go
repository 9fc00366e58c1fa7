package sampler

import (
	"context"
	"fmt"
	"io"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Memory serves a fixed slice of records, optionally wrapping around for
// open-ended training. Used by tests and small examples.
type Memory struct {
	records []letor.PairwiseRecord
	loop    bool
}

// NewMemory builds a sampler over the given records. With loop the
// sequence repeats indefinitely.
func NewMemory(records []letor.PairwiseRecord, loop bool) (*Memory, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: memory sampler requires at least one record", letor.ErrConfiguration)
	}
	return &Memory{records: records, loop: loop}, nil
}

// Initialize implements Sampler. The sequence is fixed, so there is
// nothing to seed.
func (m *Memory) Initialize(*letor.Random) error { return nil }

// Iterate implements Sampler.
func (m *Memory) Iterate(context.Context) (PairwiseIterator, error) {
	return &memoryIterator{records: m.records, loop: m.loop}, nil
}

type memoryIterator struct {
	records []letor.PairwiseRecord
	loop    bool
	cursor  Cursor
}

func (it *memoryIterator) Next(context.Context) (letor.PairwiseRecord, error) {
	if it.cursor.Position >= int64(len(it.records)) {
		if !it.loop {
			return letor.PairwiseRecord{}, io.EOF
		}
		it.cursor.Position = 0
		it.cursor.Loops++
	}
	rec := it.records[it.cursor.Position]
	it.cursor.Position++
	it.cursor.Count++
	return rec, nil
}

func (it *memoryIterator) Cursor() Cursor { return it.cursor }

func (it *memoryIterator) Restore(_ context.Context, c Cursor) error {
	if c.Position > int64(len(it.records)) {
		return fmt.Errorf("cursor position %d beyond %d records", c.Position, len(it.records))
	}
	it.cursor = c
	return nil
}

func (it *memoryIterator) Close() error { return nil }
