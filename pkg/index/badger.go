package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/ordino/pkg/types"
)

// BadgerStore keeps the collection in an embedded Badger database so that
// collections larger than memory can still be iterated and fetched by
// identifier during training.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) the database at path. Badger's own
// logging is disabled; lifecycle events go through the provided logger.
func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store at %s: %w", path, err)
	}
	logger.Debug("opened document store", "path", path)
	return &BadgerStore{db: db, logger: logger}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id string) (types.Document, error) {
	var doc types.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.Document{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return types.Document{}, fmt.Errorf("failed to read document %q: %w", id, err)
	}
	return doc, nil
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, doc types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %q: %w", doc.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(doc.ID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to write document %q: %w", doc.ID, err)
	}
	return nil
}

// PutBatch implements Store. Writes go through Badger's write batch,
// which is considerably faster than one transaction per document when
// ingesting a collection.
func (s *BadgerStore) PutBatch(_ context.Context, docs []types.Document) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
		val, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %q: %w", doc.ID, err)
		}
		if err := wb.Set([]byte(doc.ID), val); err != nil {
			return fmt.Errorf("failed to queue document %q: %w", doc.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush document batch: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *BadgerStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Iterate implements Store. Documents are visited in key order.
func (s *BadgerStore) Iterate(ctx context.Context, fn func(types.Document) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc types.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return fmt.Errorf("failed to decode document %q: %w", string(it.Item().Key()), err)
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
