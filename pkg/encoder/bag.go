package encoder

import (
	"fmt"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

// Bag is a trainable bag-of-embeddings encoder: each text is the mean of
// its term embeddings. Texts with no terms encode to the zero vector and
// contribute no gradient.
type Bag struct {
	name  string
	tok   *Tokenizer
	dim   int
	table *nn.Parameter
}

// NewBag builds a bag encoder producing dim-dimensional vectors. The name
// prefixes the parameter names, so two encoders in one model must not
// share it.
func NewBag(name string, tok *Tokenizer, dim int) (*Bag, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: bag encoder requires a name", letor.ErrConfiguration)
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: bag encoder %q requires a tokenizer", letor.ErrConfiguration, name)
	}
	if dim < 1 {
		return nil, fmt.Errorf("%w: bag encoder %q dimension must be positive, got %d", letor.ErrConfiguration, name, dim)
	}
	return &Bag{name: name, tok: tok, dim: dim}, nil
}

// Initialize allocates the embedding table and fills it from the derived
// random stream. Calling it again is a no-op.
func (b *Bag) Initialize(rnd *letor.Random) error {
	if b.table != nil {
		return nil
	}
	if rnd == nil {
		return fmt.Errorf("%w: bag encoder %q initialized without a random source", letor.ErrConfiguration, b.name)
	}
	b.table = nn.NewParameter(b.name+".embeddings", b.tok.VocabSize(), b.dim)
	nn.GlorotInit(b.table, rnd.Derive(b.name).Source())
	return nil
}

// Encode returns the mean embedding of each text and a closure scattering
// output gradients back onto the embedding rows that produced them.
func (b *Bag) Encode(texts []string) ([][]float64, Backward, error) {
	if b.table == nil {
		return nil, nil, fmt.Errorf("%w: bag encoder %q used before Initialize", letor.ErrConfiguration, b.name)
	}
	vectors := make([][]float64, len(texts))
	tokens := make([][]int, len(texts))
	for i, text := range texts {
		ids := b.tok.Tokenize(text)
		tokens[i] = ids
		vec := make([]float64, b.dim)
		if len(ids) > 0 {
			for _, id := range ids {
				nn.Axpy(1, b.table.Row(id), vec)
			}
			nn.Scale(1/float64(len(ids)), vec)
		}
		vectors[i] = vec
	}
	backward := func(grads [][]float64) {
		for i, ids := range tokens {
			if len(ids) == 0 {
				continue
			}
			inv := 1 / float64(len(ids))
			for _, id := range ids {
				nn.Axpy(inv, grads[i], b.table.GradRow(id))
			}
		}
	}
	return vectors, backward, nil
}

// Dim returns the embedding dimension.
func (b *Bag) Dim() int { return b.dim }

// Static always reports false: the table is trainable.
func (b *Bag) Static() bool { return false }

// Parameters returns the embedding table.
func (b *Bag) Parameters() []*nn.Parameter {
	if b.table == nil {
		return nil
	}
	return []*nn.Parameter{b.table}
}
