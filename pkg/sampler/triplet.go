package sampler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

// Triplet streams pre-shuffled (query, positive, negative) identifier
// triples from a TSV file, resolving texts through the topic set and the
// document store. The sequence is infinite: at end of file it wraps to
// the start and increments the cursor's loop counter.
//
// A missing identifier is fatal to the run (index.ErrNotFound): silently
// skipping records would make the sequence depend on store contents and
// break resume determinism.
type Triplet struct {
	path   string
	topics map[string]string
	store  index.Store
	logger *slog.Logger
}

// NewTriplet builds the sampler. topics provides query texts by id;
// store provides document texts.
func NewTriplet(path string, topics []types.Query, store index.Store, logger *slog.Logger) (*Triplet, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: triplet sampler requires a triple file", letor.ErrConfiguration)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: triplet sampler requires the topic set", letor.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: triplet sampler requires a document store", letor.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]string, len(topics))
	for _, q := range topics {
		byID[q.ID] = q.Text
	}
	return &Triplet{path: path, topics: byID, store: store, logger: logger}, nil
}

// Initialize implements Sampler. Triple files come pre-shuffled, so the
// sampler itself consumes no randomness.
func (t *Triplet) Initialize(*letor.Random) error { return nil }

// Iterate implements Sampler.
func (t *Triplet) Iterate(context.Context) (PairwiseIterator, error) {
	it := &tripletIterator{sampler: t}
	if err := it.open(0); err != nil {
		return nil, err
	}
	return it, nil
}

type tripletIterator struct {
	sampler *Triplet
	file    *dataset.File
	reader  *bufio.Reader
	cursor  Cursor
}

func (it *tripletIterator) open(offset int64) error {
	f, err := dataset.Open(it.sampler.path)
	if err != nil {
		return err
	}
	if offset > 0 {
		if err := f.Seek(offset); err != nil {
			f.Close()
			return err
		}
	}
	it.file = f
	it.reader = bufio.NewReader(f)
	return nil
}

func (it *tripletIterator) Next(ctx context.Context) (letor.PairwiseRecord, error) {
	triple, err := it.nextTriple()
	if err != nil {
		return letor.PairwiseRecord{}, err
	}

	queryText, ok := it.sampler.topics[triple.QueryID]
	if !ok {
		return letor.PairwiseRecord{}, fmt.Errorf("query %w: %q", index.ErrNotFound, triple.QueryID)
	}
	positive, err := it.sampler.store.Get(ctx, triple.PositiveID)
	if err != nil {
		return letor.PairwiseRecord{}, fmt.Errorf("positive document: %w", err)
	}
	negative, err := it.sampler.store.Get(ctx, triple.NegativeID)
	if err != nil {
		return letor.PairwiseRecord{}, fmt.Errorf("negative document: %w", err)
	}

	it.cursor.Count++
	it.cursor.Position++
	return letor.PairwiseRecord{
		Query:    types.Query{ID: triple.QueryID, Text: queryText},
		Positive: positive,
		Negative: negative,
	}, nil
}

// nextTriple reads the next parseable line, wrapping at end of file.
func (it *tripletIterator) nextTriple() (types.Triple, error) {
	wrapped := false
	for {
		line, err := it.reader.ReadString('\n')
		if len(line) > 0 {
			it.cursor.Offset += int64(len(line))
			if strings.TrimSpace(line) != "" {
				triple, perr := dataset.ParseTriple(line)
				if perr != nil {
					return types.Triple{}, fmt.Errorf("malformed triple in %s: %w", it.sampler.path, perr)
				}
				return triple, nil
			}
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			return types.Triple{}, fmt.Errorf("failed to read %s: %w", it.sampler.path, err)
		}
		// End of file: wrap to the beginning for the next pass.
		if wrapped && it.cursor.Position == 0 {
			return types.Triple{}, fmt.Errorf("triple file %s has no records", it.sampler.path)
		}
		if cerr := it.file.Close(); cerr != nil {
			return types.Triple{}, cerr
		}
		if oerr := it.open(0); oerr != nil {
			return types.Triple{}, oerr
		}
		it.cursor.Loops++
		it.cursor.Position = 0
		it.cursor.Offset = 0
		wrapped = true
	}
}

func (it *tripletIterator) Cursor() Cursor { return it.cursor }

// Restore repositions the stream. Plain files seek straight to the
// cursor's byte offset; compressed streams re-read from the start of the
// pass and skip the already-consumed records.
func (it *tripletIterator) Restore(_ context.Context, c Cursor) error {
	if err := it.file.Close(); err != nil {
		return err
	}
	if err := it.open(0); err != nil {
		return err
	}
	if !it.file.Compressed() && c.Offset > 0 {
		if err := it.file.Seek(c.Offset); err != nil {
			return err
		}
		it.reader = bufio.NewReader(it.file)
		it.cursor = c
		return nil
	}

	it.cursor = Cursor{Loops: c.Loops}
	for skipped := int64(0); skipped < c.Position; skipped++ {
		if _, err := it.nextTriple(); err != nil {
			return fmt.Errorf("failed to restore cursor at record %d: %w", skipped, err)
		}
	}
	it.cursor.Count = c.Count
	it.cursor.Position = c.Position
	return nil
}

func (it *tripletIterator) Close() error {
	return it.file.Close()
}
