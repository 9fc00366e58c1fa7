package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/types"
)

// Measure kinds.
const (
	KindAP        = "map"
	KindPrecision = "p"
	KindRR        = "rr"
	KindNDCG      = "ndcg"
)

// Measure identifies an IR quality measure with an optional rank cutoff
// (0 = evaluate the whole ranking).
type Measure struct {
	Kind   string
	Cutoff int
}

// ParseMeasure parses compact measure names: "map" (or "ap"), "p@k",
// "mrr"/"rr" with an optional "@k", and "ndcg" with an optional "@k".
func ParseMeasure(s string) (Measure, error) {
	name, suffix, hasCutoff := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "@")
	cutoff := 0
	if hasCutoff {
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 1 {
			return Measure{}, fmt.Errorf("%w: bad measure cutoff in %q", letor.ErrConfiguration, s)
		}
		cutoff = n
	}
	switch name {
	case "map", "ap":
		if hasCutoff {
			return Measure{}, fmt.Errorf("%w: %q does not take a cutoff", letor.ErrConfiguration, s)
		}
		return Measure{Kind: KindAP}, nil
	case "p", "precision":
		if !hasCutoff {
			return Measure{}, fmt.Errorf("%w: precision needs a cutoff, e.g. p@20", letor.ErrConfiguration)
		}
		return Measure{Kind: KindPrecision, Cutoff: cutoff}, nil
	case "mrr", "rr":
		return Measure{Kind: KindRR, Cutoff: cutoff}, nil
	case "ndcg":
		return Measure{Kind: KindNDCG, Cutoff: cutoff}, nil
	default:
		return Measure{}, fmt.Errorf("%w: unknown measure %q", letor.ErrConfiguration, s)
	}
}

// ParseMeasures parses a list of measure names, rejecting duplicates.
func ParseMeasures(names []string) ([]Measure, error) {
	measures := make([]Measure, 0, len(names))
	seen := make(map[Measure]struct{}, len(names))
	for _, name := range names {
		m, err := ParseMeasure(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("%w: duplicate measure %q", letor.ErrConfiguration, m)
		}
		seen[m] = struct{}{}
		measures = append(measures, m)
	}
	return measures, nil
}

// DefaultMeasures returns the standard ad-hoc retrieval set.
func DefaultMeasures() []Measure {
	return []Measure{
		{Kind: KindAP},
		{Kind: KindPrecision, Cutoff: 20},
		{Kind: KindNDCG},
		{Kind: KindNDCG, Cutoff: 20},
		{Kind: KindRR},
	}
}

// String returns the canonical parseable name.
func (m Measure) String() string {
	switch m.Kind {
	case KindRR:
		if m.Cutoff > 0 {
			return fmt.Sprintf("mrr@%d", m.Cutoff)
		}
		return "mrr"
	default:
		if m.Cutoff > 0 {
			return fmt.Sprintf("%s@%d", m.Kind, m.Cutoff)
		}
		return m.Kind
	}
}

// compute evaluates the measure for one topic. judged maps document ids to
// grades; grades above zero are relevant.
func (m Measure) compute(ranked []types.ScoredDocument, judged map[string]int) float64 {
	switch m.Kind {
	case KindAP:
		return averagePrecision(ranked, judged)
	case KindPrecision:
		return precisionAt(ranked, judged, m.Cutoff)
	case KindRR:
		return reciprocalRank(ranked, judged, m.Cutoff)
	case KindNDCG:
		return ndcgAt(ranked, judged, m.Cutoff)
	default:
		return 0
	}
}

func averagePrecision(ranked []types.ScoredDocument, judged map[string]int) float64 {
	relevant := 0
	for _, grade := range judged {
		if grade > 0 {
			relevant++
		}
	}
	if relevant == 0 {
		return 0
	}
	hits := 0
	var sum float64
	for i, doc := range ranked {
		if judged[doc.ID] > 0 {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	return sum / float64(relevant)
}

func precisionAt(ranked []types.ScoredDocument, judged map[string]int, k int) float64 {
	if k < 1 {
		return 0
	}
	hits := 0
	for i, doc := range ranked {
		if i >= k {
			break
		}
		if judged[doc.ID] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

func reciprocalRank(ranked []types.ScoredDocument, judged map[string]int, k int) float64 {
	for i, doc := range ranked {
		if k > 0 && i >= k {
			break
		}
		if judged[doc.ID] > 0 {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// ndcgAt uses linear gains with a log2(rank+1) discount; the ideal ranking
// orders the judged grades descending.
func ndcgAt(ranked []types.ScoredDocument, judged map[string]int, k int) float64 {
	var dcg float64
	for i, doc := range ranked {
		if k > 0 && i >= k {
			break
		}
		if grade := judged[doc.ID]; grade > 0 {
			dcg += float64(grade) / math.Log2(float64(i+2))
		}
	}

	grades := make([]int, 0, len(judged))
	for _, grade := range judged {
		if grade > 0 {
			grades = append(grades, grade)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(grades)))
	var ideal float64
	for i, grade := range grades {
		if k > 0 && i >= k {
			break
		}
		ideal += float64(grade) / math.Log2(float64(i+2))
	}
	if ideal == 0 {
		return 0
	}
	return dcg / ideal
}
