package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/soundprediction/ordino/pkg/dataset"
)

// ErrExternalTool marks a failure of an external metric-computation
// binary. It is surfaced to the caller and never retried.
var ErrExternalTool = errors.New("external evaluation tool failed")

// Result is one measure evaluated over a run: a value per assessed topic
// and their mean. Topics with no relevant assessment are excluded; an
// assessed topic missing from the run scores zero.
type Result struct {
	Measure  string             `json:"measure"`
	PerQuery map[string]float64 `json:"per_query"`
	Mean     float64            `json:"mean"`
}

// Evaluator is the metric-computation collaborator of the validation
// stage.
type Evaluator interface {
	Evaluate(ctx context.Context, run Run, qrels dataset.Qrels, measures []Measure) ([]Result, error)
}

// Native evaluates measures in process.
type Native struct{}

// Evaluate computes every measure over the topics that have at least one
// relevant assessment. An empty measure list evaluates DefaultMeasures.
func (Native) Evaluate(_ context.Context, run Run, qrels dataset.Qrels, measures []Measure) ([]Result, error) {
	if len(measures) == 0 {
		measures = DefaultMeasures()
	}
	topics := assessedTopics(qrels)
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topic has a relevant assessment")
	}

	results := make([]Result, len(measures))
	for mi, m := range measures {
		perQuery := make(map[string]float64, len(topics))
		values := make([]float64, len(topics))
		for i, topic := range topics {
			v := m.compute(run[topic], qrels[topic])
			perQuery[topic] = v
			values[i] = v
		}
		mean, err := stats.Mean(values)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %s: %w", m, err)
		}
		results[mi] = Result{Measure: m.String(), PerQuery: perQuery, Mean: mean}
	}
	return results, nil
}

// assessedTopics returns the sorted topics with at least one relevant
// assessment.
func assessedTopics(qrels dataset.Qrels) []string {
	topics := make([]string, 0, len(qrels))
	for topic, judged := range qrels {
		for _, grade := range judged {
			if grade > 0 {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)
	return topics
}
