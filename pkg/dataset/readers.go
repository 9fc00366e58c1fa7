package dataset

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/soundprediction/ordino/pkg/types"
)

// ReadTopics parses a topic file of tab-separated "id<TAB>text" lines.
// Blank lines are skipped.
func ReadTopics(path string) ([]types.Query, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var topics []types.Query
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		id, body, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("malformed topic at %s:%d: missing tab separator", path, line)
		}
		topics = append(topics, types.Query{ID: strings.TrimSpace(id), Text: strings.TrimSpace(body)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topics from %s: %w", path, err)
	}
	return topics, nil
}

// IterateCorpus streams a corpus of tab-separated "id<TAB>text" lines
// through fn, stopping at the first error fn returns. Corpora are usually
// too large to hold in memory, so there is no slice-returning variant.
func IterateCorpus(path string, fn func(types.Document) error) error {
	f, err := Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		id, body, ok := strings.Cut(text, "\t")
		if !ok {
			return fmt.Errorf("malformed corpus at %s:%d: missing tab separator", path, line)
		}
		doc := types.Document{ID: strings.TrimSpace(id), Text: strings.TrimSpace(body)}
		if err := fn(doc); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read corpus from %s: %w", path, err)
	}
	return nil
}

// Qrels holds relevance assessments: topic id to document id to grade.
// Grades above zero count as relevant.
type Qrels map[string]map[string]int

// Grade returns the assessment for (topic, doc), zero when unassessed.
func (q Qrels) Grade(topic, doc string) int {
	return q[topic][doc]
}

// Relevant returns the assessed-relevant documents for a topic.
func (q Qrels) Relevant(topic string) map[string]int {
	out := make(map[string]int)
	for doc, grade := range q[topic] {
		if grade > 0 {
			out[doc] = grade
		}
	}
	return out
}

// Assessed reports whether the topic has any assessment at all.
func (q Qrels) Assessed(topic string) bool {
	return len(q[topic]) > 0
}

// ReadQrels parses TREC-format assessments: "topic 0 docid grade" with
// whitespace separation. The second column is ignored, as trec_eval does.
func ReadQrels(path string) (Qrels, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	qrels := make(Qrels)
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
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed qrels at %s:%d: expected 4 fields, got %d", path, line, len(fields))
		}
		grade, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("malformed qrels at %s:%d: bad grade %q", path, line, fields[3])
		}
		topic, doc := fields[0], fields[2]
		if qrels[topic] == nil {
			qrels[topic] = make(map[string]int)
		}
		qrels[topic][doc] = grade
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read qrels from %s: %w", path, err)
	}
	return qrels, nil
}

// WriteQrels writes assessments in TREC format, sorted by topic then
// document id so the output is reproducible.
func WriteQrels(path string, qrels Qrels) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create qrels file %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	topics := make([]string, 0, len(qrels))
	for topic := range qrels {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		docs := make([]string, 0, len(qrels[topic]))
		for doc := range qrels[topic] {
			docs = append(docs, doc)
		}
		sort.Strings(docs)
		for _, doc := range docs {
			if _, err := fmt.Fprintf(w, "%s 0 %s %d\n", topic, doc, qrels[topic][doc]); err != nil {
				f.Close()
				return fmt.Errorf("failed to write qrels file %s: %w", path, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write qrels file %s: %w", path, err)
	}
	return f.Close()
}

// ParseTriple parses one "qid<TAB>posid<TAB>negid" line.
func ParseTriple(line string) (types.Triple, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) != 3 {
		return types.Triple{}, fmt.Errorf("expected 3 tab-separated fields, got %d", len(fields))
	}
	t := types.Triple{
		QueryID:    strings.TrimSpace(fields[0]),
		PositiveID: strings.TrimSpace(fields[1]),
		NegativeID: strings.TrimSpace(fields[2]),
	}
	if t.QueryID == "" || t.PositiveID == "" || t.NegativeID == "" {
		return types.Triple{}, fmt.Errorf("triple has an empty identifier")
	}
	return t, nil
}

// ReadTriples loads a whole triple file into memory. Streaming consumers
// should open the file themselves and use ParseTriple per line.
func ReadTriples(path string) ([]types.Triple, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var triples []types.Triple
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		t, err := ParseTriple(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("malformed triple at %s:%d: %w", path, line, err)
		}
		triples = append(triples, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read triples from %s: %w", path, err)
	}
	return triples, nil
}
