package encoder

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Tokenizer maps text to term identifiers with the hashing trick: terms
// are lowercased, split on non-alphanumeric runes and hashed into a fixed
// identifier space. There is no vocabulary file to load or persist, which
// keeps checkpoints self-contained.
type Tokenizer struct {
	vocabSize int
}

// NewTokenizer returns a tokenizer hashing into vocabSize identifiers.
func NewTokenizer(vocabSize int) (*Tokenizer, error) {
	if vocabSize < 2 {
		return nil, fmt.Errorf("%w: tokenizer vocabulary size must be at least 2, got %d", letor.ErrConfiguration, vocabSize)
	}
	return &Tokenizer{vocabSize: vocabSize}, nil
}

// VocabSize returns the size of the identifier space.
func (t *Tokenizer) VocabSize() int {
	return t.vocabSize
}

// Tokenize splits text into lowercase terms and hashes each into
// [0, VocabSize). Empty input yields an empty slice.
func (t *Tokenizer) Tokenize(text string) []int {
	terms := splitTerms(text)
	if len(terms) == 0 {
		return nil
	}
	ids := make([]int, len(terms))
	for i, term := range terms {
		ids[i] = t.hash(term)
	}
	return ids
}

func (t *Tokenizer) hash(term string) int {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int(h.Sum32() % uint32(t.vocabSize))
}

func splitTerms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
