package letor

import "errors"

// Error kinds of the training loop. Wrapped with context by the packages
// that raise them; callers branch with errors.Is.
var (
	// ErrConfiguration marks an invalid component composition. It is
	// raised at construction or validation time and never escapes into a
	// running training loop.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNumericalDivergence marks a NaN or infinite score. It is fatal
	// to the whole run: a diverged model must not keep producing
	// checkpoints.
	ErrNumericalDivergence = errors.New("numerical divergence")

	// ErrResourceExhausted marks an out-of-memory style failure while
	// scoring. The batcher retries once at half the micro-batch size,
	// then treats it as fatal.
	ErrResourceExhausted = errors.New("resource exhausted")
)
