package encoder

import (
	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

// Backward propagates per-text output gradients into the encoder's
// parameter gradients. grads has one row per encoded text, each of the
// encoder's dimension. A nil Backward means the forward pass has nothing
// to learn from.
type Backward func(grads [][]float64)

// Text turns strings into dense vectors. Encode returns one vector per
// input text together with the backward closure for that forward pass;
// callers running inference simply discard the closure.
type Text interface {
	// Initialize allocates and seeds the parameters. It must be called
	// once before Encode; later calls are no-ops so that restored
	// checkpoints are not overwritten.
	Initialize(rnd *letor.Random) error

	// Encode embeds the given texts.
	Encode(texts []string) ([][]float64, Backward, error)

	// Dim is the dimensionality of the produced vectors.
	Dim() int

	// Static reports whether the encoder's parameters are frozen.
	Static() bool

	// Parameters lists the trainable parameters, empty when Static.
	Parameters() []*nn.Parameter
}

// Frozen wraps an encoder so its parameters no longer receive gradients.
// The wrapped encoder still needs Initialize before use.
func Frozen(inner Text) Text {
	return &frozen{inner: inner}
}

type frozen struct {
	inner Text
}

func (f *frozen) Initialize(rnd *letor.Random) error {
	return f.inner.Initialize(rnd)
}

func (f *frozen) Encode(texts []string) ([][]float64, Backward, error) {
	vectors, _, err := f.inner.Encode(texts)
	return vectors, nil, err
}

func (f *frozen) Dim() int { return f.inner.Dim() }

func (f *frozen) Static() bool { return true }

func (f *frozen) Parameters() []*nn.Parameter { return nil }
