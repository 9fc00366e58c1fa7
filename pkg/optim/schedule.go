package optim

import "math"

// Schedule maps the global step count (1-based, after increment) to a
// multiplier applied to every group's base learning rate.
type Schedule interface {
	Name() string
	Factor(step int64) float64
}

// ConstantSchedule leaves the learning rate untouched.
type ConstantSchedule struct{}

func (ConstantSchedule) Name() string { return "constant" }

func (ConstantSchedule) Factor(step int64) float64 { return 1 }

// LinearWithWarmup ramps linearly from 0 to 1 over Warmup steps, then
// decays linearly to MinFactor at Total steps. With Total <= Warmup the
// factor stays at 1 after warmup.
type LinearWithWarmup struct {
	Warmup    int64
	Total     int64
	MinFactor float64
}

func (LinearWithWarmup) Name() string { return "linear-warmup" }

func (s LinearWithWarmup) Factor(step int64) float64 {
	if s.Warmup > 0 && step < s.Warmup {
		return float64(step) / float64(s.Warmup)
	}
	if s.Total <= s.Warmup {
		return 1
	}
	if step >= s.Total {
		return s.MinFactor
	}
	f := float64(s.Total-step) / float64(s.Total-s.Warmup)
	if f < s.MinFactor {
		return s.MinFactor
	}
	return f
}

// CosineWithWarmup ramps linearly over Warmup steps, then follows a cosine
// decay to Floor at Total steps.
type CosineWithWarmup struct {
	Warmup int64
	Total  int64
	Floor  float64
}

func (CosineWithWarmup) Name() string { return "cosine-warmup" }

func (s CosineWithWarmup) Factor(step int64) float64 {
	if s.Warmup > 0 && step < s.Warmup {
		return float64(step) / float64(s.Warmup)
	}
	if s.Total <= s.Warmup || step >= s.Total {
		if s.Total > s.Warmup {
			return s.Floor
		}
		return 1
	}
	progress := float64(step-s.Warmup) / float64(s.Total-s.Warmup)
	cos := 0.5 * (1 + math.Cos(math.Pi*progress))
	return s.Floor + (1-s.Floor)*cos
}
