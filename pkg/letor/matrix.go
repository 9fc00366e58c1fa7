package letor

import (
	"fmt"
	"math"
)

// ScoreMatrix is a dense row-major matrix of relevance scores with shape
// (batch size, pair width). Column 0 holds the positive document's score,
// the remaining columns hold negatives. A matrix is consumed exactly once
// by a loss.
type ScoreMatrix struct {
	Rows   int
	Cols   int
	Values []float64
}

// NewScoreMatrix allocates a zeroed rows x cols matrix.
func NewScoreMatrix(rows, cols int) *ScoreMatrix {
	return &ScoreMatrix{Rows: rows, Cols: cols, Values: make([]float64, rows*cols)}
}

// ReshapeScores wraps a flat score vector into a matrix with the given
// number of columns. The vector length must be divisible by cols.
func ReshapeScores(values []float64, cols int) (*ScoreMatrix, error) {
	if cols < PairWidth {
		return nil, fmt.Errorf("%w: pair width %d, need at least %d", ErrConfiguration, cols, PairWidth)
	}
	if len(values)%cols != 0 {
		return nil, fmt.Errorf("%w: %d scores do not reshape into %d columns", ErrConfiguration, len(values), cols)
	}
	return &ScoreMatrix{Rows: len(values) / cols, Cols: cols, Values: values}, nil
}

// At returns the element at (row, col).
func (m *ScoreMatrix) At(row, col int) float64 {
	return m.Values[row*m.Cols+col]
}

// Set assigns the element at (row, col).
func (m *ScoreMatrix) Set(row, col int, v float64) {
	m.Values[row*m.Cols+col] = v
}

// Row returns the backing slice of one row.
func (m *ScoreMatrix) Row(row int) []float64 {
	return m.Values[row*m.Cols : (row+1)*m.Cols]
}

// NonFinite reports the position of the first NaN or infinite value.
func (m *ScoreMatrix) NonFinite() (row, col int, found bool) {
	for i, v := range m.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i / m.Cols, i % m.Cols, true
		}
	}
	return 0, 0, false
}

// Accuracy is the fraction of (positive, negative) comparisons in which
// the positive score strictly exceeds the negative. Always within [0, 1].
func (m *ScoreMatrix) Accuracy() float64 {
	if m.Rows == 0 || m.Cols < PairWidth {
		return 0
	}
	wins := 0
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		for j := 1; j < m.Cols; j++ {
			if row[0] > row[j] {
				wins++
			}
		}
	}
	return float64(wins) / float64(m.Rows*(m.Cols-1))
}
