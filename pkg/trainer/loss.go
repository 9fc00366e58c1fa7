package trainer

import (
	"fmt"
	"math"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

// Pairwise loss kinds selectable from configuration.
const (
	LossCrossEntropy = "cross-entropy"
	LossSoftmax      = "softmax"
	LossHinge        = "hinge"
	LossPointwise    = "pointwise"
	LossNogueira     = "nogueira"
)

// PairwiseLoss turns a score matrix into a scalar loss and its gradient
// with respect to every score. Losses are stateless apart from declared
// hyperparameters, so one instance can serve a whole run.
type PairwiseLoss interface {
	Name() string
	Compute(scores *letor.ScoreMatrix) (value float64, grad *letor.ScoreMatrix, err error)
}

// NewLoss returns the loss named by kind. The margin applies to the hinge
// loss only and is ignored elsewhere.
func NewLoss(kind string, margin float64) (PairwiseLoss, error) {
	switch kind {
	case LossCrossEntropy:
		return CrossEntropyLoss{}, nil
	case LossSoftmax:
		return SoftmaxLoss{}, nil
	case LossHinge:
		return HingeLoss{Margin: margin}, nil
	case LossPointwise:
		return PointwiseLoss{variant: LossPointwise}, nil
	case LossNogueira:
		return PointwiseLoss{variant: LossNogueira}, nil
	default:
		return nil, fmt.Errorf("%w: unknown pairwise loss %q", letor.ErrConfiguration, kind)
	}
}

func checkScores(m *letor.ScoreMatrix) error {
	if m == nil || m.Rows < 1 {
		return fmt.Errorf("%w: pairwise losses need at least one record", letor.ErrConfiguration)
	}
	if m.Cols < letor.PairWidth {
		return fmt.Errorf("%w: pairwise losses need at least one negative per record, got %d columns",
			letor.ErrConfiguration, m.Cols)
	}
	return nil
}

// CrossEntropyLoss applies categorical cross-entropy with the positive
// (column 0) as the target class, averaged over records.
type CrossEntropyLoss struct{}

func (CrossEntropyLoss) Name() string { return LossCrossEntropy }

func (CrossEntropyLoss) Compute(scores *letor.ScoreMatrix) (float64, *letor.ScoreMatrix, error) {
	if err := checkScores(scores); err != nil {
		return 0, nil, err
	}
	grad := letor.NewScoreMatrix(scores.Rows, scores.Cols)
	inv := 1 / float64(scores.Rows)
	var total float64
	probs := make([]float64, scores.Cols)
	for i := 0; i < scores.Rows; i++ {
		row := scores.Row(i)
		total += nn.LogSumExp(row) - row[0]
		nn.Softmax(probs, row)
		g := grad.Row(i)
		for j, p := range probs {
			g[j] = p * inv
		}
		g[0] -= inv
	}
	return total * inv, grad, nil
}

// SoftmaxLoss penalizes a low softmax probability on the positive:
// mean(1 - softmax(row)[0]).
type SoftmaxLoss struct{}

func (SoftmaxLoss) Name() string { return LossSoftmax }

func (SoftmaxLoss) Compute(scores *letor.ScoreMatrix) (float64, *letor.ScoreMatrix, error) {
	if err := checkScores(scores); err != nil {
		return 0, nil, err
	}
	grad := letor.NewScoreMatrix(scores.Rows, scores.Cols)
	inv := 1 / float64(scores.Rows)
	var total float64
	probs := make([]float64, scores.Cols)
	for i := 0; i < scores.Rows; i++ {
		nn.Softmax(probs, scores.Row(i))
		total += 1 - probs[0]
		g := grad.Row(i)
		for j, p := range probs {
			g[j] = probs[0] * p * inv
		}
		g[0] -= probs[0] * inv
	}
	return total * inv, grad, nil
}

// HingeLoss is the margin ranking loss mean(relu(margin - positive +
// negative)) over every (record, negative) comparison.
type HingeLoss struct {
	Margin float64
}

func (HingeLoss) Name() string { return LossHinge }

func (h HingeLoss) Compute(scores *letor.ScoreMatrix) (float64, *letor.ScoreMatrix, error) {
	if err := checkScores(scores); err != nil {
		return 0, nil, err
	}
	grad := letor.NewScoreMatrix(scores.Rows, scores.Cols)
	inv := 1 / float64(scores.Rows*(scores.Cols-1))
	var total float64
	for i := 0; i < scores.Rows; i++ {
		row := scores.Row(i)
		g := grad.Row(i)
		for j := 1; j < scores.Cols; j++ {
			if m := h.Margin - row[0] + row[j]; m > 0 {
				total += m * inv
				g[0] -= inv
				g[j] += inv
			}
		}
	}
	return total, grad, nil
}

// PointwiseLoss frames each document as an independent binary relevance
// classification: the score is the relevant-class logit against an implicit
// zero logit, so a record costs softplus(-positive) plus softplus(negative)
// per negative, averaged over records. The nogueira name selects the same
// computation and differs only in what it reports as Name.
type PointwiseLoss struct {
	variant string
}

func (p PointwiseLoss) Name() string {
	if p.variant == "" {
		return LossPointwise
	}
	return p.variant
}

func (p PointwiseLoss) Compute(scores *letor.ScoreMatrix) (float64, *letor.ScoreMatrix, error) {
	if err := checkScores(scores); err != nil {
		return 0, nil, err
	}
	grad := letor.NewScoreMatrix(scores.Rows, scores.Cols)
	inv := 1 / float64(scores.Rows)
	var total float64
	for i := 0; i < scores.Rows; i++ {
		row := scores.Row(i)
		g := grad.Row(i)
		total += softplus(-row[0]) * inv
		g[0] = (sigmoid(row[0]) - 1) * inv
		for j := 1; j < scores.Cols; j++ {
			total += softplus(row[j]) * inv
			g[j] = sigmoid(row[j]) * inv
		}
	}
	return total, grad, nil
}

// softplus computes log(1 + exp(x)) without overflow.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
