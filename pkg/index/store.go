package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/soundprediction/ordino/pkg/types"
)

// ErrNotFound is returned when a document identifier is not in the store.
var ErrNotFound = errors.New("document not found")

// Store is a forward index over the document collection.
type Store interface {
	// Get returns the document with the given identifier, or an error
	// wrapping ErrNotFound when it is absent.
	Get(ctx context.Context, id string) (types.Document, error)

	// Put inserts or replaces a document.
	Put(ctx context.Context, doc types.Document) error

	// PutBatch inserts or replaces documents in one write.
	PutBatch(ctx context.Context, docs []types.Document) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int64, error)

	// Iterate calls fn for every stored document until fn returns an
	// error or the collection is exhausted.
	Iterate(ctx context.Context, fn func(types.Document) error) error

	// Close releases the underlying resources.
	Close() error
}

// Memory is an in-process Store. Iteration follows insertion order, which
// keeps index builds and tests deterministic.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]types.Document
	order []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]types.Document)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return types.Document{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return doc, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, doc types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; !ok {
		m.order = append(m.order, doc.ID)
	}
	m.docs[doc.ID] = doc
	return nil
}

// PutBatch implements Store.
func (m *Memory) PutBatch(ctx context.Context, docs []types.Document) error {
	for _, doc := range docs {
		if err := m.Put(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Count implements Store.
func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.order)), nil
}

// Iterate implements Store.
func (m *Memory) Iterate(ctx context.Context, fn func(types.Document) error) error {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.RLock()
		doc, ok := m.docs[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
