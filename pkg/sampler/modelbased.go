package sampler

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/retrieval"
	"github.com/soundprediction/ordino/pkg/types"
)

// ModelBased mines hard negatives with a retriever: for each topic it
// retrieves the top-k documents, takes an assessed-relevant document as
// the positive and the highest-scored unassessed-or-irrelevant retrieved
// document as the negative. Topics without a usable pair are skipped.
//
// The retriever's model must be initialized before sampling starts; the
// cursor is the topic position, so resume re-runs at most one retrieval.
type ModelBased struct {
	topics    []types.Query
	qrels     dataset.Qrels
	retriever retrieval.Retriever
	store     index.Store
	k         int
	loop      bool
	logger    *slog.Logger
}

// ModelBasedConfig wires the sampler's collaborators.
type ModelBasedConfig struct {
	Topics    []types.Query
	Qrels     dataset.Qrels
	Retriever retrieval.Retriever
	Store     index.Store
	// K is the retrieval depth used for mining.
	K int
	// Loop restarts from the first topic after the last one.
	Loop bool
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewModelBased builds the sampler.
func NewModelBased(cfg ModelBasedConfig) (*ModelBased, error) {
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("%w: model-based sampler requires topics", letor.ErrConfiguration)
	}
	if cfg.Qrels == nil {
		return nil, fmt.Errorf("%w: model-based sampler requires assessments", letor.ErrConfiguration)
	}
	if cfg.Retriever == nil || cfg.Store == nil {
		return nil, fmt.Errorf("%w: model-based sampler requires a retriever and a document store", letor.ErrConfiguration)
	}
	if cfg.K <= 0 {
		cfg.K = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ModelBased{
		topics:    cfg.Topics,
		qrels:     cfg.Qrels,
		retriever: cfg.Retriever,
		store:     cfg.Store,
		k:         cfg.K,
		loop:      cfg.Loop,
		logger:    cfg.Logger,
	}, nil
}

// Initialize implements Sampler.
func (m *ModelBased) Initialize(*letor.Random) error { return nil }

// Iterate implements Sampler.
func (m *ModelBased) Iterate(context.Context) (PairwiseIterator, error) {
	return &modelBasedIterator{sampler: m}, nil
}

type modelBasedIterator struct {
	sampler *ModelBased
	cursor  Cursor
}

func (it *modelBasedIterator) Next(ctx context.Context) (letor.PairwiseRecord, error) {
	s := it.sampler
	for {
		if it.cursor.Position >= int64(len(s.topics)) {
			if !s.loop {
				return letor.PairwiseRecord{}, io.EOF
			}
			if it.cursor.Count == 0 && it.cursor.Loops > 0 {
				return letor.PairwiseRecord{}, fmt.Errorf("no topic yields a training pair")
			}
			it.cursor.Position = 0
			it.cursor.Loops++
		}
		topic := s.topics[it.cursor.Position]
		it.cursor.Position++

		rec, ok, err := it.mine(ctx, topic)
		if err != nil {
			return letor.PairwiseRecord{}, err
		}
		if !ok {
			s.logger.Debug("skipping topic without a usable pair", "topic", topic.ID)
			continue
		}
		it.cursor.Count++
		return rec, nil
	}
}

// mine builds a (positive, hard negative) pair for one topic.
func (it *modelBasedIterator) mine(ctx context.Context, topic types.Query) (letor.PairwiseRecord, bool, error) {
	s := it.sampler
	relevant := s.qrels.Relevant(topic.ID)
	if len(relevant) == 0 {
		return letor.PairwiseRecord{}, false, nil
	}
	retrieved, err := s.retriever.Retrieve(ctx, topic, s.k)
	if err != nil {
		return letor.PairwiseRecord{}, false, fmt.Errorf("mining failed for topic %q: %w", topic.ID, err)
	}

	positiveID, negativeID := "", ""
	for _, doc := range retrieved {
		if _, ok := relevant[doc.ID]; ok {
			if positiveID == "" {
				positiveID = doc.ID
			}
		} else if negativeID == "" {
			negativeID = doc.ID
		}
		if positiveID != "" && negativeID != "" {
			break
		}
	}
	if negativeID == "" {
		return letor.PairwiseRecord{}, false, nil
	}
	if positiveID == "" {
		// The retriever missed every relevant document; fall back to the
		// assessed positive with the smallest id to stay deterministic.
		for id := range relevant {
			if positiveID == "" || id < positiveID {
				positiveID = id
			}
		}
	}

	positive, err := s.store.Get(ctx, positiveID)
	if err != nil {
		return letor.PairwiseRecord{}, false, err
	}
	negative, err := s.store.Get(ctx, negativeID)
	if err != nil {
		return letor.PairwiseRecord{}, false, err
	}
	return letor.PairwiseRecord{Query: topic, Positive: positive, Negative: negative}, true, nil
}

func (it *modelBasedIterator) Cursor() Cursor { return it.cursor }

func (it *modelBasedIterator) Restore(_ context.Context, c Cursor) error {
	if c.Position > int64(len(it.sampler.topics)) {
		return fmt.Errorf("cursor position %d beyond %d topics", c.Position, len(it.sampler.topics))
	}
	it.cursor = c
	return nil
}

func (it *modelBasedIterator) Close() error { return nil }
