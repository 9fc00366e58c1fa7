package optim

import (
	"encoding/json"
	"fmt"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
)

// Group pairs a parameter filter with the update rule for the parameters
// it captures. A nil Filter matches everything.
type Group struct {
	Filter Filter
	Inner  Inner
}

// ModuleOptimizer routes a model's parameters into groups (first matching
// filter wins) and steps them under a shared learning-rate schedule. It is
// the single mutation point of model parameters in a run.
type ModuleOptimizer struct {
	schedule Schedule
	groups   []Group
	bound    [][]*nn.Parameter
	all      []*nn.Parameter
	step     int64
}

// NewModuleOptimizer builds an unbound optimizer. At least one group is
// required; a nil schedule means constant learning rate.
func NewModuleOptimizer(schedule Schedule, groups ...Group) (*ModuleOptimizer, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: optimizer needs at least one parameter group", letor.ErrConfiguration)
	}
	if schedule == nil {
		schedule = ConstantSchedule{}
	}
	return &ModuleOptimizer{schedule: schedule, groups: groups}, nil
}

// Bind assigns every parameter to the first group whose filter matches.
// A parameter no group captures is a configuration error: it would never
// be updated and the model could not train.
func (mo *ModuleOptimizer) Bind(params []*nn.Parameter) error {
	mo.bound = make([][]*nn.Parameter, len(mo.groups))
	mo.all = params
	for _, p := range params {
		matched := false
		for gi, g := range mo.groups {
			if g.Filter == nil || g.Filter.Match(p.Name) {
				mo.bound[gi] = append(mo.bound[gi], p)
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("%w: parameter %q matched no optimizer group", letor.ErrConfiguration, p.Name)
		}
	}
	return nil
}

// Step applies one update across all groups and advances the schedule.
func (mo *ModuleOptimizer) Step() {
	mo.step++
	factor := mo.schedule.Factor(mo.step)
	for gi, g := range mo.groups {
		if len(mo.bound[gi]) > 0 {
			g.Inner.Apply(mo.bound[gi], factor)
		}
	}
}

// ZeroGrad clears the gradients of every bound parameter.
func (mo *ModuleOptimizer) ZeroGrad() {
	nn.ZeroGrads(mo.all)
}

// StepCount returns the number of optimizer steps taken.
func (mo *ModuleOptimizer) StepCount() int64 { return mo.step }

// LearningFactor returns the schedule multiplier the next step will use,
// for diagnostics.
func (mo *ModuleOptimizer) LearningFactor() float64 {
	return mo.schedule.Factor(mo.step + 1)
}

type moduleState struct {
	Step   int64             `json:"step"`
	Groups []json.RawMessage `json:"groups"`
}

// State serializes the step counter and every group's moments.
func (mo *ModuleOptimizer) State() ([]byte, error) {
	st := moduleState{Step: mo.step}
	for _, g := range mo.groups {
		inner, err := g.Inner.State()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s state: %w", g.Inner.Name(), err)
		}
		st.Groups = append(st.Groups, inner)
	}
	return json.MarshalIndent(st, "", "  ")
}

// LoadState restores a serialized optimizer state. The group layout must
// match the one that produced it.
func (mo *ModuleOptimizer) LoadState(raw []byte) error {
	var st moduleState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("failed to decode optimizer state: %w", err)
	}
	if len(st.Groups) != len(mo.groups) {
		return fmt.Errorf("%w: optimizer state has %d groups, expected %d",
			letor.ErrConfiguration, len(st.Groups), len(mo.groups))
	}
	for gi, g := range mo.groups {
		if err := g.Inner.LoadState(st.Groups[gi]); err != nil {
			return err
		}
	}
	mo.step = st.Step
	return nil
}
