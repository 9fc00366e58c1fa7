package letor

import "fmt"

// HookCategory tags a hook extension point. Hooks are registered under a
// category and invoked in registration order; a failing hook stops the
// run rather than being skipped.
type HookCategory string

const (
	// HookDualVectors hooks receive the raw query/document vectors of a
	// dual scorer once per score_pairs call (regularizers).
	HookDualVectors HookCategory = "dual-vectors"

	// HookDistribution hooks place the model onto its device(s) once
	// after initialization.
	HookDistribution HookCategory = "distribution"
)

// LossTerm is a named, weighted loss contribution recorded during a
// training step. The step loss is the weighted sum of all terms averaged
// over micro-batches.
type LossTerm struct {
	Name   string
	Value  float64
	Weight float64
}

// VectorHookResult carries a dual-vector hook's loss terms and, in
// training mode, its gradients with respect to the raw vectors.
type VectorHookResult struct {
	Terms      []LossTerm
	QueryGrads [][]float64
	DocGrads   [][]float64
}

// DualVectorHook is the contract for vector-level extensions of dual
// scorers, e.g. sparsity regularizers. Apply runs exactly once per
// score_pairs call, after scores are computed and before they are
// returned. Gradients are only populated when train is true.
type DualVectorHook interface {
	Name() string
	Apply(tc *Context, queryVecs, docVecs [][]float64, train bool) (*VectorHookResult, error)
}

// DistributionHook moves a model across devices. Single-device runs use
// no-op hooks; the learner invokes each registered hook once after
// initialization.
type DistributionHook interface {
	Name() string
	Distribute(tc *Context) error
}

// Context is the mutable per-run training state shared between the
// trainer and its hooks: epoch/step counters, the loss terms of the
// current step, aggregated metrics, and the hook registry.
//
// A Context belongs to exactly one learner; all mutation happens on the
// training goroutine.
type Context struct {
	epoch   int64
	step    int64
	terms   []LossTerm
	metrics *Metrics
	hooks   map[HookCategory][]any
}

// NewContext returns an empty training context.
func NewContext() *Context {
	return &Context{
		metrics: NewMetrics(),
		hooks:   make(map[HookCategory][]any),
	}
}

// Epoch returns the current epoch (1-based once training starts).
func (c *Context) Epoch() int64 { return c.epoch }

// Step returns the number of completed training steps.
func (c *Context) Step() int64 { return c.step }

// SetEpoch positions the epoch counter (used on resume).
func (c *Context) SetEpoch(epoch int64) { c.epoch = epoch }

// SetStep positions the step counter (used on resume).
func (c *Context) SetStep(step int64) { c.step = step }

// AdvanceStep increments and returns the step counter.
func (c *Context) AdvanceStep() int64 {
	c.step++
	return c.step
}

// Metrics returns the run's metric aggregator.
func (c *Context) Metrics() *Metrics { return c.metrics }

// AddLoss records a named weighted loss term for the current step.
func (c *Context) AddLoss(name string, value, weight float64) {
	c.terms = append(c.terms, LossTerm{Name: name, Value: value, Weight: weight})
}

// StepTerms returns a copy of the loss terms recorded so far this step.
func (c *Context) StepTerms() []LossTerm {
	out := make([]LossTerm, len(c.terms))
	copy(out, c.terms)
	return out
}

// ReduceStep folds the step's loss terms into a total and per-name values,
// averaging over numMicro micro-batches so the reported loss does not
// depend on the accumulation split. The step terms are cleared.
func (c *Context) ReduceStep(numMicro int) (total float64, byName map[string]float64) {
	if numMicro < 1 {
		numMicro = 1
	}
	byName = make(map[string]float64)
	for _, t := range c.terms {
		v := t.Value * t.Weight / float64(numMicro)
		total += v
		byName[t.Name] += v
	}
	c.terms = c.terms[:0]
	return total, byName
}

// Register adds a hook under the given category, after any hooks already
// registered there.
func (c *Context) Register(cat HookCategory, hook any) {
	c.hooks[cat] = append(c.hooks[cat], hook)
}

// Hooks returns the hooks registered under the category, in registration
// order.
func (c *Context) Hooks(cat HookCategory) []any {
	return c.hooks[cat]
}

// DualVectorHooks returns the typed dual-vector hooks. A hook registered
// under HookDualVectors that does not implement DualVectorHook is a
// configuration error.
func (c *Context) DualVectorHooks() ([]DualVectorHook, error) {
	raw := c.hooks[HookDualVectors]
	out := make([]DualVectorHook, 0, len(raw))
	for _, h := range raw {
		hook, ok := h.(DualVectorHook)
		if !ok {
			return nil, fmt.Errorf("%w: %T registered under %q", ErrConfiguration, h, HookDualVectors)
		}
		out = append(out, hook)
	}
	return out, nil
}

// DistributionHooks returns the typed distribution hooks.
func (c *Context) DistributionHooks() ([]DistributionHook, error) {
	raw := c.hooks[HookDistribution]
	out := make([]DistributionHook, 0, len(raw))
	for _, h := range raw {
		hook, ok := h.(DistributionHook)
		if !ok {
			return nil, fmt.Errorf("%w: %T registered under %q", ErrConfiguration, h, HookDistribution)
		}
		out = append(out, hook)
	}
	return out, nil
}
