package nn

import (
	"math"
	"math/rand"
)

// Parameter is a trainable row-major matrix with a gradient buffer of the
// same shape. Vectors use Cols == 1. Names are stable across runs and are
// what optimizer parameter filters match against.
type Parameter struct {
	Name string
	Rows int
	Cols int
	Data []float64
	Grad []float64
}

// NewParameter allocates a zeroed parameter.
func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Grad: make([]float64, rows*cols),
	}
}

// Size returns the number of values.
func (p *Parameter) Size() int { return p.Rows * p.Cols }

// Row returns the backing slice of one row of the values.
func (p *Parameter) Row(i int) []float64 {
	return p.Data[i*p.Cols : (i+1)*p.Cols]
}

// GradRow returns the backing slice of one row of the gradient.
func (p *Parameter) GradRow(i int) []float64 {
	return p.Grad[i*p.Cols : (i+1)*p.Cols]
}

// ZeroGrad clears the gradient buffer.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// GlorotInit fills the parameter with Glorot/Xavier uniform values drawn
// from the given generator.
func GlorotInit(p *Parameter, rnd *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(p.Rows+p.Cols))
	for i := range p.Data {
		p.Data[i] = (rnd.Float64()*2 - 1) * limit
	}
}

// ZeroGrads clears the gradients of every parameter.
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CountValues returns the total number of values across parameters.
func CountValues(params []*Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}
