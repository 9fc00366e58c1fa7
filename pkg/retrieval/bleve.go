package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"

	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/types"
)

// indexedDocument is the shape stored in the bleve index. Only the text
// is indexed; full documents stay in the index.Store.
type indexedDocument struct {
	Text string `json:"text"`
}

// Bleve is the lexical first-stage retriever backed by a bleve index.
type Bleve struct {
	idx    bleve.Index
	logger *slog.Logger
}

// OpenBleve opens an existing bleve index.
func OpenBleve(path string, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open search index at %s: %w", path, err)
	}
	return &Bleve{idx: idx, logger: logger}, nil
}

// BuildBleve creates a bleve index at path from every document in the
// store and returns the opened retriever. Documents are indexed in
// batches; an empty path builds an in-memory index for tests.
func BuildBleve(ctx context.Context, path string, store index.Store, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mapping := bleve.NewIndexMapping()
	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.New(path, mapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create search index at %s: %w", path, err)
	}

	const batchSize = 1000
	batch := idx.NewBatch()
	indexed := 0
	err = store.Iterate(ctx, func(doc types.Document) error {
		if err := batch.Index(doc.ID, indexedDocument{Text: doc.Text}); err != nil {
			return fmt.Errorf("failed to index document %q: %w", doc.ID, err)
		}
		indexed++
		if batch.Size() >= batchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("failed to flush index batch: %w", err)
			}
			batch = idx.NewBatch()
		}
		return nil
	})
	if err != nil {
		idx.Close()
		return nil, err
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			idx.Close()
			return nil, fmt.Errorf("failed to flush index batch: %w", err)
		}
	}
	logger.Info("built search index", "path", path, "documents", indexed)
	return &Bleve{idx: idx, logger: logger}, nil
}

// Retrieve implements Retriever with a match query over the text field.
func (b *Bleve) Retrieve(ctx context.Context, query types.Query, k int) ([]types.ScoredDocument, error) {
	if k < 1 {
		return nil, fmt.Errorf("retrieval depth must be positive, got %d", k)
	}
	mq := bleve.NewMatchQuery(query.Text)
	mq.SetField("text")
	req := bleve.NewSearchRequestOptions(mq, k, 0, false)
	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed for topic %q: %w", query.ID, err)
	}
	docs := make([]types.ScoredDocument, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docs = append(docs, types.ScoredDocument{ID: hit.ID, Score: hit.Score})
	}
	return docs, nil
}

// Count returns the number of indexed documents.
func (b *Bleve) Count() (uint64, error) {
	return b.idx.DocCount()
}

// Close releases the index.
func (b *Bleve) Close() error {
	return b.idx.Close()
}
