package letor

import (
	"hash/fnv"
	"math/rand"
	"strconv"
)

// Random is the experiment-level source of randomness. The experiment root
// owns a single seeded instance and hands derived views to component
// initializers, so that two runs with the same seed produce identical
// sampling and initialization regardless of construction order.
//
// Components receive a *Random during Initialize (two-phase construction)
// and must not capture global randomness.
type Random struct {
	seed int64
}

// NewRandom returns a Random rooted at the given seed.
func NewRandom(seed int64) *Random {
	return &Random{seed: seed}
}

// Seed returns the seed this Random was rooted at.
func (r *Random) Seed() int64 {
	return r.seed
}

// Derive returns a child Random whose seed is a stable hash of this seed
// and the given names. Deriving the same names always yields the same
// child, so components can be re-initialized identically after a restart.
func (r *Random) Derive(names ...string) *Random {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(r.seed, 10)))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	return &Random{seed: int64(h.Sum64())}
}

// Source returns a fresh deterministic generator seeded from this Random.
// Each call returns an independent generator with the same sequence.
func (r *Random) Source() *rand.Rand {
	return rand.New(rand.NewSource(r.seed))
}
