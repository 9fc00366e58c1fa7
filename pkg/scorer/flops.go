package scorer

import (
	"math"

	"github.com/soundprediction/ordino/pkg/letor"
)

// FlopsRegularizer is a dual-vector hook implementing the FLOPS sparsity
// regularizer: FLOPS(X) = Σ_j (mean_i |x_ij|)², summed over dimensions of
// the per-dimension mean absolute activation. The combined loss term is
// lambdaQ·FLOPS(queries) + lambdaD·FLOPS(documents).
type FlopsRegularizer struct {
	LambdaQ float64
	LambdaD float64
}

// NewFlopsRegularizer builds the hook with per-side weights.
func NewFlopsRegularizer(lambdaQ, lambdaD float64) *FlopsRegularizer {
	return &FlopsRegularizer{LambdaQ: lambdaQ, LambdaD: lambdaD}
}

// Name implements letor.DualVectorHook.
func (f *FlopsRegularizer) Name() string { return "flops" }

// Apply implements letor.DualVectorHook. It records the flops and
// sparsity metrics and, in training mode, returns exact gradients with
// respect to the vectors (lambda weights already applied).
func (f *FlopsRegularizer) Apply(tc *letor.Context, queryVecs, docVecs [][]float64, train bool) (*letor.VectorHookResult, error) {
	qMeans, flopsQ := flops(queryVecs)
	dMeans, flopsD := flops(docVecs)
	combined := f.LambdaQ*flopsQ + f.LambdaD*flopsD

	metrics := tc.Metrics()
	metrics.Add("flops", combined, float64(len(qMeans)))
	metrics.Add("flops_q", flopsQ, float64(len(qMeans)))
	metrics.Add("flops_d", flopsD, float64(len(dMeans)))
	metrics.Add("sparsity_q", sparsity(queryVecs), float64(len(qMeans)))
	metrics.Add("sparsity_d", sparsity(docVecs), float64(len(dMeans)))

	result := &letor.VectorHookResult{
		Terms: []letor.LossTerm{{Name: "flops", Value: combined, Weight: 1}},
	}
	if train {
		result.QueryGrads = flopsGrads(queryVecs, qMeans, f.LambdaQ)
		result.DocGrads = flopsGrads(docVecs, dMeans, f.LambdaD)
	}
	return result, nil
}

// flops returns the per-dimension mean absolute activations and the sum
// of their squares.
func flops(vecs [][]float64) ([]float64, float64) {
	if len(vecs) == 0 {
		return nil, 0
	}
	means := make([]float64, len(vecs[0]))
	for _, vec := range vecs {
		for j, v := range vec {
			means[j] += math.Abs(v)
		}
	}
	var sum float64
	inv := 1 / float64(len(vecs))
	for j := range means {
		means[j] *= inv
		sum += means[j] * means[j]
	}
	return means, sum
}

// flopsGrads differentiates lambda·Σ_j mean_j² with respect to each entry:
// d/dx_ij = lambda · 2 · mean_j · sign(x_ij) / n.
func flopsGrads(vecs [][]float64, means []float64, lambda float64) [][]float64 {
	if len(vecs) == 0 {
		return nil
	}
	grads := make([][]float64, len(vecs))
	scale := lambda * 2 / float64(len(vecs))
	for i, vec := range vecs {
		g := make([]float64, len(vec))
		for j, v := range vec {
			switch {
			case v > 0:
				g[j] = scale * means[j]
			case v < 0:
				g[j] = -scale * means[j]
			}
		}
		grads[i] = g
	}
	return grads
}

func sparsity(vecs [][]float64) float64 {
	var nonZero, total float64
	for _, vec := range vecs {
		for _, v := range vec {
			if v != 0 {
				nonZero++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return nonZero / total
}
