package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// Summary condenses one measure's per-query distribution.
type Summary struct {
	Measure string  `json:"measure"`
	Queries int     `json:"queries"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summarize computes the distribution summary of a result.
func Summarize(res Result) (Summary, error) {
	if len(res.PerQuery) == 0 {
		return Summary{}, fmt.Errorf("result %s has no per-query values", res.Measure)
	}
	values := make([]float64, 0, len(res.PerQuery))
	for _, v := range res.PerQuery {
		values = append(values, v)
	}
	s := Summary{Measure: res.Measure, Queries: len(values), Mean: res.Mean}
	var err error
	if s.Median, err = stats.Median(values); err != nil {
		return Summary{}, fmt.Errorf("failed to summarize %s: %w", res.Measure, err)
	}
	if len(values) > 1 {
		if s.StdDev, err = stats.StdDevS(values); err != nil {
			return Summary{}, fmt.Errorf("failed to summarize %s: %w", res.Measure, err)
		}
	}
	if s.Min, err = stats.Min(values); err != nil {
		return Summary{}, fmt.Errorf("failed to summarize %s: %w", res.Measure, err)
	}
	if s.Max, err = stats.Max(values); err != nil {
		return Summary{}, fmt.Errorf("failed to summarize %s: %w", res.Measure, err)
	}
	return s, nil
}

// Report bundles the results of one evaluation pass.
type Report struct {
	Tag     string   `json:"tag,omitempty"`
	Results []Result `json:"results"`
}

// Summaries returns one summary per result.
func (r *Report) Summaries() ([]Summary, error) {
	out := make([]Summary, 0, len(r.Results))
	for _, res := range r.Results {
		s, err := Summarize(res)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// String renders the report as one aligned line per measure.
func (r *Report) String() string {
	var b strings.Builder
	if r.Tag != "" {
		fmt.Fprintf(&b, "run %s\n", r.Tag)
	}
	width := 0
	for _, res := range r.Results {
		if len(res.Measure) > width {
			width = len(res.Measure)
		}
	}
	for _, res := range r.Results {
		summary, err := Summarize(res)
		if err != nil {
			fmt.Fprintf(&b, "%-*s  mean=%.4f\n", width, res.Measure, res.Mean)
			continue
		}
		fmt.Fprintf(&b, "%-*s  mean=%.4f median=%.4f sd=%.4f min=%.4f max=%.4f (%d topics)\n",
			width, res.Measure, summary.Mean, summary.Median, summary.StdDev,
			summary.Min, summary.Max, summary.Queries)
	}
	return b.String()
}

// BestByQuery returns the result's topics sorted by score, best first,
// up to n entries (0 = all). Ties break on topic id.
func BestByQuery(res Result, n int) []string {
	topics := make([]string, 0, len(res.PerQuery))
	for topic := range res.PerQuery {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		vi, vj := res.PerQuery[topics[i]], res.PerQuery[topics[j]]
		if vi != vj {
			return vi > vj
		}
		return topics[i] < topics[j]
	})
	if n > 0 && n < len(topics) {
		topics = topics[:n]
	}
	return topics
}
