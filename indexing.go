package ordino

import (
	"context"
	"fmt"
	"os"

	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/retrieval"
	"github.com/soundprediction/ordino/pkg/types"
)

// ingestBatch is how many documents are buffered per store write while
// streaming a corpus.
const ingestBatch = 1024

// BuildIndex ingests the configured corpus into the document store and
// builds the full-text index over it. Documents are keyed by identifier,
// so re-ingesting replaces them in place; the full-text index is rebuilt
// from the store each time.
func (e *Experiment) BuildIndex(ctx context.Context) (int64, error) {
	if e.cfg.Data.Corpus == "" {
		return 0, fmt.Errorf("%w: no corpus configured", letor.ErrConfiguration)
	}
	store, err := e.openStore()
	if err != nil {
		return 0, err
	}

	e.logger.Info("ingesting corpus", "corpus", e.cfg.Data.Corpus)
	var count int64
	batch := make([]types.Document, 0, ingestBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.PutBatch(ctx, batch); err != nil {
			return err
		}
		count += int64(len(batch))
		batch = batch[:0]
		return nil
	}
	err = dataset.IterateCorpus(e.cfg.Data.Corpus, func(doc types.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, doc)
		if len(batch) == ingestBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return count, fmt.Errorf("failed to ingest corpus: %w", err)
	}

	// bleve refuses to create over an existing index; a rebuild replaces it.
	e.mu.Lock()
	if e.fulltext != nil {
		e.fulltext.Close()
		e.fulltext = nil
	}
	e.mu.Unlock()
	if err := os.RemoveAll(e.indexPath()); err != nil {
		return count, fmt.Errorf("failed to clear stale index: %w", err)
	}
	fulltext, err := retrieval.BuildBleve(ctx, e.indexPath(), store, e.logger)
	if err != nil {
		return count, err
	}
	e.mu.Lock()
	e.fulltext = fulltext
	e.mu.Unlock()

	e.logger.Info("corpus indexed", "documents", count, "index", e.indexPath())
	return count, nil
}
