package index

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

// Cached puts an LRU cache in front of another store. Rescoring reads the
// same documents every validation pass, so even a small cache removes
// most of the disk traffic.
type Cached struct {
	inner Store
	cache *lru.Cache[string, types.Document]
}

// NewCached wraps inner with a cache holding up to size documents.
func NewCached(inner Store, size int) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: cached store requires an inner store", letor.ErrConfiguration)
	}
	cache, err := lru.New[string, types.Document](size)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cache size %d: %v", letor.ErrConfiguration, size, err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Get implements Store.
func (c *Cached) Get(ctx context.Context, id string) (types.Document, error) {
	if doc, ok := c.cache.Get(id); ok {
		return doc, nil
	}
	doc, err := c.inner.Get(ctx, id)
	if err != nil {
		return types.Document{}, err
	}
	c.cache.Add(id, doc)
	return doc, nil
}

// Put implements Store. Writes go through to the inner store and refresh
// the cached copy.
func (c *Cached) Put(ctx context.Context, doc types.Document) error {
	if err := c.inner.Put(ctx, doc); err != nil {
		return err
	}
	c.cache.Add(doc.ID, doc)
	return nil
}

// PutBatch implements Store.
func (c *Cached) PutBatch(ctx context.Context, docs []types.Document) error {
	if err := c.inner.PutBatch(ctx, docs); err != nil {
		return err
	}
	for _, doc := range docs {
		c.cache.Add(doc.ID, doc)
	}
	return nil
}

// Count implements Store.
func (c *Cached) Count(ctx context.Context) (int64, error) {
	return c.inner.Count(ctx)
}

// Iterate implements Store. Iteration bypasses the cache.
func (c *Cached) Iterate(ctx context.Context, fn func(types.Document) error) error {
	return c.inner.Iterate(ctx, fn)
}

// Close implements Store.
func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
