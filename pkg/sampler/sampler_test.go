package sampler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/index"
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

func fixtureRecords(n int) []letor.PairwiseRecord {
	records := make([]letor.PairwiseRecord, n)
	for i := range records {
		records[i] = letor.PairwiseRecord{
			Query:    types.Query{ID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("query %d", i)},
			Positive: types.Document{ID: fmt.Sprintf("p%d", i), Text: fmt.Sprintf("positive %d", i)},
			Negative: types.Document{ID: fmt.Sprintf("n%d", i), Text: fmt.Sprintf("negative %d", i)},
		}
	}
	return records
}

// tripleFixture writes a store, topics and a triple file with n triples.
func tripleFixture(t *testing.T, n int, compress bool) (string, []types.Query, index.Store) {
	t.Helper()
	ctx := context.Background()
	store := index.NewMemory()
	topics := make([]types.Query, n)
	content := ""
	for i := 0; i < n; i++ {
		topics[i] = types.Query{ID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("query %d", i)}
		pos := types.Document{ID: fmt.Sprintf("p%d", i), Text: fmt.Sprintf("positive %d", i)}
		neg := types.Document{ID: fmt.Sprintf("n%d", i), Text: fmt.Sprintf("negative %d", i)}
		require.NoError(t, store.Put(ctx, pos))
		require.NoError(t, store.Put(ctx, neg))
		content += fmt.Sprintf("q%d\tp%d\tn%d\n", i, i, i)
	}

	name := "triples.tsv"
	if compress {
		name += ".gz"
	}
	path := filepath.Join(t.TempDir(), name)
	if compress {
		f, err := os.Create(path)
		require.NoError(t, err)
		gz := gzip.NewWriter(f)
		_, err = gz.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, f.Close())
	} else {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return path, topics, store
}

func collect(t *testing.T, it PairwiseIterator, n int) []letor.PairwiseRecord {
	t.Helper()
	out := make([]letor.PairwiseRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := it.Next(context.Background())
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestMemorySampler(t *testing.T) {
	records := fixtureRecords(3)

	t.Run("finite sequence ends with EOF", func(t *testing.T) {
		s, err := NewMemory(records, false)
		require.NoError(t, err)
		it, err := s.Iterate(context.Background())
		require.NoError(t, err)

		got := collect(t, it, 3)
		assert.Equal(t, records, got)
		_, err = it.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("looping wraps and counts passes", func(t *testing.T) {
		s, err := NewMemory(records, true)
		require.NoError(t, err)
		it, err := s.Iterate(context.Background())
		require.NoError(t, err)

		got := collect(t, it, 7)
		assert.Equal(t, records[0], got[3])
		assert.Equal(t, records[0], got[6])
		cur := it.Cursor()
		assert.Equal(t, int64(7), cur.Count)
		assert.Equal(t, int64(2), cur.Loops)
	})

	t.Run("resume continues without replay", func(t *testing.T) {
		s, err := NewMemory(records, true)
		require.NoError(t, err)
		it, err := s.Iterate(context.Background())
		require.NoError(t, err)
		collect(t, it, 4)
		cur := it.Cursor()
		want := collect(t, it, 4)
		require.NoError(t, it.Close())

		fresh, err := s.Iterate(context.Background())
		require.NoError(t, err)
		require.NoError(t, fresh.Restore(context.Background(), cur))
		assert.Equal(t, want, collect(t, fresh, 4))
	})

	t.Run("rejects empty record set", func(t *testing.T) {
		_, err := NewMemory(nil, false)
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})
}

func TestTripletSampler(t *testing.T) {
	ctx := context.Background()

	for _, compressed := range []bool{false, true} {
		name := "plain"
		if compressed {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			path, topics, store := tripleFixture(t, 5, compressed)
			s, err := NewTriplet(path, topics, store, nil)
			require.NoError(t, err)

			t.Run("identical sequence on re-iteration", func(t *testing.T) {
				a, err := s.Iterate(ctx)
				require.NoError(t, err)
				defer a.Close()
				b, err := s.Iterate(ctx)
				require.NoError(t, err)
				defer b.Close()
				assert.Equal(t, collect(t, a, 12), collect(t, b, 12))
			})

			t.Run("wraps at end of file", func(t *testing.T) {
				it, err := s.Iterate(ctx)
				require.NoError(t, err)
				defer it.Close()

				got := collect(t, it, 11)
				assert.Equal(t, "q0", got[5].Query.ID)
				assert.Equal(t, "q0", got[10].Query.ID)
				cur := it.Cursor()
				assert.Equal(t, int64(11), cur.Count)
				assert.Equal(t, int64(2), cur.Loops)
				assert.Equal(t, int64(1), cur.Position)
			})

			t.Run("resume mid-pass matches uninterrupted run", func(t *testing.T) {
				it, err := s.Iterate(ctx)
				require.NoError(t, err)
				collect(t, it, 7)
				cur := it.Cursor()
				want := collect(t, it, 6)
				require.NoError(t, it.Close())

				fresh, err := s.Iterate(ctx)
				require.NoError(t, err)
				defer fresh.Close()
				require.NoError(t, fresh.Restore(ctx, cur))
				assert.Equal(t, want, collect(t, fresh, 6))
				assert.Equal(t, int64(13), fresh.Cursor().Count)
			})
		})
	}

	t.Run("missing document id is fatal", func(t *testing.T) {
		path, topics, _ := tripleFixture(t, 2, false)
		s, err := NewTriplet(path, topics, index.NewMemory(), nil)
		require.NoError(t, err)
		it, err := s.Iterate(ctx)
		require.NoError(t, err)
		defer it.Close()

		_, err = it.Next(ctx)
		require.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("missing query id is fatal", func(t *testing.T) {
		path, _, store := tripleFixture(t, 2, false)
		s, err := NewTriplet(path, []types.Query{{ID: "other", Text: "other"}}, store, nil)
		require.NoError(t, err)
		it, err := s.Iterate(ctx)
		require.NoError(t, err)
		defer it.Close()

		_, err = it.Next(ctx)
		require.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("empty file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "triples.tsv")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		s, err := NewTriplet(path, []types.Query{{ID: "q", Text: "q"}}, index.NewMemory(), nil)
		require.NoError(t, err)
		it, err := s.Iterate(ctx)
		require.NoError(t, err)
		defer it.Close()

		_, err = it.Next(ctx)
		require.Error(t, err)
	})
}

func TestBatched(t *testing.T) {
	ctx := context.Background()

	t.Run("chunks records in order", func(t *testing.T) {
		records := fixtureRecords(5)
		s, err := NewMemory(records, false)
		require.NoError(t, err)
		src, err := NewBatched(s)
		require.NoError(t, err)
		it, err := src.BatchIterate(ctx, 2)
		require.NoError(t, err)

		first, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, letor.Batch(records[0:2]), first)

		second, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, letor.Batch(records[2:4]), second)

		trailing, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, letor.Batch(records[4:5]), trailing)

		_, err = it.Next(ctx)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("rejects non-positive batch size", func(t *testing.T) {
		s, err := NewMemory(fixtureRecords(2), false)
		require.NoError(t, err)
		src, err := NewBatched(s)
		require.NoError(t, err)
		_, err = src.BatchIterate(ctx, 0)
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})
}

func TestInBatchNegatives(t *testing.T) {
	ctx := context.Background()
	records := fixtureRecords(4)

	t.Run("rotates positives by one", func(t *testing.T) {
		inner, err := NewMemory(records, true)
		require.NoError(t, err)
		s, err := NewInBatchNegatives(inner)
		require.NoError(t, err)
		it, err := s.BatchIterate(ctx, 4)
		require.NoError(t, err)

		batch, err := it.Next(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 4)
		for i, rec := range batch {
			assert.Equal(t, records[i].Query, rec.Query)
			assert.Equal(t, records[i].Positive, rec.Positive)
			assert.Equal(t, records[(i+1)%4].Positive, rec.Negative, "record %d", i)
		}
	})

	t.Run("rejects batch size below two", func(t *testing.T) {
		inner, err := NewMemory(records, true)
		require.NoError(t, err)
		s, err := NewInBatchNegatives(inner)
		require.NoError(t, err)
		_, err = s.BatchIterate(ctx, 1)
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})
}

func TestModelBased(t *testing.T) {
	ctx := context.Background()
	store := index.NewMemory()
	for _, doc := range []types.Document{
		{ID: "d1", Text: "relevant one"},
		{ID: "d2", Text: "irrelevant"},
		{ID: "d3", Text: "relevant three"},
	} {
		require.NoError(t, store.Put(ctx, doc))
	}

	retriever := fixedRanking{
		"q1": {{ID: "d2", Score: 3}, {ID: "d1", Score: 2}},
		"q2": {{ID: "d2", Score: 1}},
		"q3": {{ID: "d3", Score: 2}, {ID: "d2", Score: 1}},
	}
	qrels := map[string]map[string]int{
		"q1": {"d1": 1},
		"q3": {"d3": 1},
		// q2 has no assessments and must be skipped.
	}

	s, err := NewModelBased(ModelBasedConfig{
		Topics: []types.Query{
			{ID: "q1", Text: "one"}, {ID: "q2", Text: "two"}, {ID: "q3", Text: "three"},
		},
		Qrels:     qrels,
		Retriever: retriever,
		Store:     store,
		K:         10,
		Loop:      true,
	})
	require.NoError(t, err)
	it, err := s.Iterate(ctx)
	require.NoError(t, err)

	first, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q1", first.Query.ID)
	assert.Equal(t, "d1", first.Positive.ID)
	assert.Equal(t, "d2", first.Negative.ID, "highest-scored unassessed document")

	second, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q3", second.Query.ID, "topics without assessments are skipped")

	third, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q1", third.Query.ID, "loops back to the first topic")

	cur := it.Cursor()
	want := collect(t, it, 2)
	fresh, err := s.Iterate(ctx)
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(ctx, cur))
	assert.Equal(t, want, collect(t, fresh, 2))
}

type fixedRanking map[string][]types.ScoredDocument

func (f fixedRanking) Retrieve(_ context.Context, q types.Query, k int) ([]types.ScoredDocument, error) {
	docs := f[q.ID]
	if k < len(docs) {
		docs = docs[:k]
	}
	return docs, nil
}

func TestPrefetcher(t *testing.T) {
	ctx := context.Background()
	path, topics, store := tripleFixture(t, 6, false)
	s, err := NewTriplet(path, topics, store, nil)
	require.NoError(t, err)

	t.Run("same sequence as the unwrapped iterator", func(t *testing.T) {
		plain, err := s.Iterate(ctx)
		require.NoError(t, err)
		defer plain.Close()
		want := collect(t, plain, 10)

		wrapped, err := NewPrefetched(s, 4)
		require.NoError(t, err)
		it, err := wrapped.Iterate(ctx)
		require.NoError(t, err)
		defer it.Close()
		assert.Equal(t, want, collect(t, it, 10))
	})

	t.Run("cursor tracks consumption, not read-ahead", func(t *testing.T) {
		inner, err := s.Iterate(ctx)
		require.NoError(t, err)
		pre := NewPrefetcher(inner, 4)
		defer pre.Close()

		collect(t, pre, 3)
		assert.Equal(t, int64(3), pre.Cursor().Count)
	})

	t.Run("restore discards read-ahead", func(t *testing.T) {
		inner, err := s.Iterate(ctx)
		require.NoError(t, err)
		pre := NewPrefetcher(inner, 4)
		defer pre.Close()

		collect(t, pre, 4)
		cur := pre.Cursor()
		want := collect(t, pre, 5)

		require.NoError(t, pre.Restore(ctx, cur))
		assert.Equal(t, want, collect(t, pre, 5))
	})
}
