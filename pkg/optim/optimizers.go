package optim

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/soundprediction/ordino/pkg/nn"
)

// Inner is a concrete update rule bound to one parameter group. Apply
// consumes the accumulated gradients; factor scales the base learning
// rate (schedule output).
type Inner interface {
	Name() string
	Apply(params []*nn.Parameter, factor float64)
	State() (json.RawMessage, error)
	LoadState(json.RawMessage) error
}

// SGD is stochastic gradient descent with optional momentum and coupled
// weight decay.
type SGD struct {
	LR          float64
	Momentum    float64
	WeightDecay float64

	velocity [][]float64
}

// NewSGD returns an SGD update rule.
func NewSGD(lr float64) *SGD {
	return &SGD{LR: lr}
}

func (s *SGD) Name() string { return "sgd" }

// Apply runs one SGD update over the group.
func (s *SGD) Apply(params []*nn.Parameter, factor float64) {
	if s.Momentum != 0 && s.velocity == nil {
		s.velocity = zerosLike(params)
	}
	lr := s.LR * factor
	for pi, p := range params {
		for i, g := range p.Grad {
			if s.WeightDecay != 0 {
				g += s.WeightDecay * p.Data[i]
			}
			if s.Momentum != 0 {
				s.velocity[pi][i] = s.Momentum*s.velocity[pi][i] + g
				g = s.velocity[pi][i]
			}
			p.Data[i] -= lr * g
		}
	}
}

type sgdState struct {
	Velocity [][]float64 `json:"velocity,omitempty"`
}

func (s *SGD) State() (json.RawMessage, error) {
	return json.Marshal(sgdState{Velocity: s.velocity})
}

func (s *SGD) LoadState(raw json.RawMessage) error {
	var st sgdState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("failed to decode sgd state: %w", err)
	}
	s.velocity = st.Velocity
	return nil
}

// Adam implements Adam and, with Decoupled set, AdamW (decoupled weight
// decay applied to the values rather than folded into the gradient).
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	Decoupled   bool

	t int64
	m [][]float64
	v [][]float64
}

// NewAdam returns a classic Adam rule with the usual defaults.
func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// NewAdamW returns Adam with decoupled weight decay.
func NewAdamW(lr, weightDecay float64) *Adam {
	a := NewAdam(lr)
	a.WeightDecay = weightDecay
	a.Decoupled = true
	return a
}

func (a *Adam) Name() string {
	if a.Decoupled {
		return "adamw"
	}
	return "adam"
}

// Apply runs one Adam update over the group.
func (a *Adam) Apply(params []*nn.Parameter, factor float64) {
	if a.m == nil {
		a.m = zerosLike(params)
		a.v = zerosLike(params)
	}
	a.t++
	lr := a.LR * factor
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for pi, p := range params {
		m, v := a.m[pi], a.v[pi]
		for i, g := range p.Grad {
			if a.WeightDecay != 0 && !a.Decoupled {
				g += a.WeightDecay * p.Data[i]
			}
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			update := (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Eps)
			if a.WeightDecay != 0 && a.Decoupled {
				update += a.WeightDecay * p.Data[i]
			}
			p.Data[i] -= lr * update
		}
	}
}

type adamState struct {
	T int64       `json:"t"`
	M [][]float64 `json:"m"`
	V [][]float64 `json:"v"`
}

func (a *Adam) State() (json.RawMessage, error) {
	return json.Marshal(adamState{T: a.t, M: a.m, V: a.v})
}

func (a *Adam) LoadState(raw json.RawMessage) error {
	var st adamState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("failed to decode adam state: %w", err)
	}
	a.t = st.T
	a.m = st.M
	a.v = st.V
	return nil
}

func zerosLike(params []*nn.Parameter) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, p.Size())
	}
	return out
}
