package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameter(t *testing.T) {
	t.Run("rows address the right values", func(t *testing.T) {
		p := NewParameter("embed", 3, 2)
		copy(p.Data, []float64{1, 2, 3, 4, 5, 6})
		assert.Equal(t, []float64{3, 4}, p.Row(1))
		assert.Equal(t, 6, p.Size())
	})

	t.Run("zero grad clears only the gradient", func(t *testing.T) {
		p := NewParameter("w", 2, 2)
		copy(p.Data, []float64{1, 1, 1, 1})
		copy(p.Grad, []float64{9, 9, 9, 9})
		p.ZeroGrad()
		assert.Equal(t, []float64{0, 0, 0, 0}, p.Grad)
		assert.Equal(t, []float64{1, 1, 1, 1}, p.Data)
	})

	t.Run("glorot stays within its limit and is seeded", func(t *testing.T) {
		a := NewParameter("w", 16, 8)
		b := NewParameter("w", 16, 8)
		GlorotInit(a, rand.New(rand.NewSource(5)))
		GlorotInit(b, rand.New(rand.NewSource(5)))
		limit := math.Sqrt(6.0 / float64(16+8))
		for i, v := range a.Data {
			assert.LessOrEqual(t, math.Abs(v), limit)
			assert.Equal(t, v, b.Data[i])
		}
	})
}

func TestVectorMath(t *testing.T) {
	t.Run("dot", func(t *testing.T) {
		assert.InDelta(t, 11.0, Dot([]float64{1, 2, 3}, []float64{3, 1, 2}), 1e-12)
	})

	t.Run("axpy accumulates", func(t *testing.T) {
		y := []float64{1, 1}
		Axpy(2, []float64{3, 4}, y)
		assert.Equal(t, []float64{7, 9}, y)
	})

	t.Run("norm", func(t *testing.T) {
		assert.InDelta(t, 5.0, Norm([]float64{3, 4}), 1e-12)
	})
}

func TestSoftmax(t *testing.T) {
	t.Run("matches the direct formula", func(t *testing.T) {
		out := make([]float64, 2)
		Softmax(out, []float64{1, 0})
		e := math.Exp(1.0)
		require.InDelta(t, e/(e+1), out[0], 1e-12)
		require.InDelta(t, 1/(e+1), out[1], 1e-12)
	})

	t.Run("is stable for large logits", func(t *testing.T) {
		out := make([]float64, 3)
		Softmax(out, []float64{1000, 999, 998})
		sum := out[0] + out[1] + out[2]
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.False(t, math.IsNaN(out[0]))
	})
}

func TestLogSumExp(t *testing.T) {
	got := LogSumExp([]float64{1000, 1000})
	assert.InDelta(t, 1000+math.Log(2), got, 1e-9)

	got = LogSumExp([]float64{0, 0, 0})
	assert.InDelta(t, math.Log(3), got, 1e-12)
}
