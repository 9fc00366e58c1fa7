package evaluation

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/ordino/pkg/retrieval"
	"github.com/soundprediction/ordino/pkg/types"
)

// Run holds one ranked document list per topic, best first.
type Run map[string][]types.ScoredDocument

// BuildRun ranks every topic with the retriever to depth k. Topics are
// ranked concurrently up to parallelism at a time; the result does not
// depend on completion order.
func BuildRun(ctx context.Context, r retrieval.Retriever, topics []types.Query, k, parallelism int) (Run, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	ranked := make([][]types.ScoredDocument, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, topic := range topics {
		g.Go(func() error {
			docs, err := r.Retrieve(gctx, topic, k)
			if err != nil {
				return fmt.Errorf("failed to rank topic %s: %w", topic.ID, err)
			}
			ranked[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	run := make(Run, len(topics))
	for i, topic := range topics {
		run[topic.ID] = ranked[i]
	}
	return run, nil
}

// WriteRunFile writes the run in the standard six-column format, one ranked
// document per line:
//
//	topic_id Q0 doc_id rank score tag
//
// Ranks start at 1. Topics are written in sorted order so runs diff
// cleanly.
func WriteRunFile(path string, run Run, tag string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create run file %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	topics := make([]string, 0, len(run))
	for topic := range run {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		for rank, doc := range run[topic] {
			_, err := fmt.Fprintf(w, "%s Q0 %s %d %s %s\n",
				topic, doc.ID, rank+1, strconv.FormatFloat(doc.Score, 'g', -1, 64), tag)
			if err != nil {
				f.Close()
				return fmt.Errorf("failed to write run file %s: %w", path, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write run file %s: %w", path, err)
	}
	return f.Close()
}

// ReadRunFile parses a six-column run file, restoring per-topic rank order.
func ReadRunFile(path string) (Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run file %s: %w", path, err)
	}
	defer f.Close()

	type entry struct {
		rank int
		doc  types.ScoredDocument
	}
	entries := make(map[string][]entry)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 6 {
			return nil, fmt.Errorf("malformed run file at %s:%d: expected 6 fields, got %d", path, line, len(fields))
		}
		rank, err := strconv.Atoi(fields[3])
		if err != nil || rank < 1 {
			return nil, fmt.Errorf("malformed run file at %s:%d: bad rank %q", path, line, fields[3])
		}
		score, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed run file at %s:%d: bad score %q", path, line, fields[4])
		}
		topic := fields[0]
		entries[topic] = append(entries[topic], entry{rank: rank, doc: types.ScoredDocument{ID: fields[2], Score: score}})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", path, err)
	}

	run := make(Run, len(entries))
	for topic, list := range entries {
		sort.Slice(list, func(i, j int) bool { return list[i].rank < list[j].rank })
		docs := make([]types.ScoredDocument, len(list))
		for i, e := range list {
			docs[i] = e.doc
		}
		run[topic] = docs
	}
	return run, nil
}
