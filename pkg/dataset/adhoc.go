package dataset

import (
	"fmt"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

// Adhoc bundles the topics and assessments of one evaluation set.
type Adhoc struct {
	Topics []types.Query
	Qrels  Qrels
}

// LoadAdhoc reads a topic file and its qrels.
func LoadAdhoc(topicsPath, qrelsPath string) (*Adhoc, error) {
	topics, err := ReadTopics(topicsPath)
	if err != nil {
		return nil, err
	}
	qrels, err := ReadQrels(qrelsPath)
	if err != nil {
		return nil, err
	}
	return &Adhoc{Topics: topics, Qrels: qrels}, nil
}

// Assessed returns the subset of topics that carry at least one
// assessment. Evaluating unassessed topics only dilutes the averages.
func (a *Adhoc) Assessed() []types.Query {
	var out []types.Query
	for _, topic := range a.Topics {
		if a.Qrels.Assessed(topic.ID) {
			out = append(out, topic)
		}
	}
	return out
}

// RandomFold splits n topics out of queries for validation, leaving the
// rest for training. The split is a deterministic function of rnd, so a
// restarted experiment sees the exact same fold.
func RandomFold(rnd *letor.Random, queries []types.Query, n int) (held, rest []types.Query, err error) {
	if n < 0 || n > len(queries) {
		return nil, nil, fmt.Errorf("%w: fold size %d out of range for %d topics", letor.ErrConfiguration, n, len(queries))
	}
	shuffled := make([]types.Query, len(queries))
	copy(shuffled, queries)
	src := rnd.Derive("fold").Source()
	src.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n], shuffled[n:], nil
}
