package scheduler

import (
	"math"

	"github.com/pigmentdev/pigment/internal/tensor"
)

// EulerDiscrete is the deterministic first-order scheduler. It converts the
// alphas-cumprod table into per-timestep sigmas and integrates
//
//	next = sample + residual * (sigma[t+1] - sigma[t])
//
// with a terminal sigma of zero. No randomness is involved, so output
// depends only on the initial noise and the predictor.
type EulerDiscrete struct {
	*schedule
	sigmas []float64 // indexed by training timestep
	active []float64 // sigma per configured marker, plus trailing 0
}

func NewEulerDiscrete(cfg Config) (*EulerDiscrete, error) {
	sched, err := newSchedule(cfg)
	if err != nil {
		return nil, err
	}
	sigmas := make([]float64, len(sched.alphasCumprod))
	for i, a := range sched.alphasCumprod {
		sigmas[i] = math.Sqrt((1 - a) / a)
	}
	return &EulerDiscrete{schedule: sched, sigmas: sigmas}, nil
}

func (e *EulerDiscrete) Timesteps(stepCount int) ([]int, error) {
	ts, err := e.configure(stepCount)
	if err != nil {
		return nil, err
	}
	e.active = make([]float64, len(ts)+1)
	for i, t := range ts {
		e.active[i] = e.sigmas[t]
	}
	e.active[len(ts)] = 0
	return ts, nil
}

// InitNoiseSigma matches diffusers: the initial noise is scaled by the
// largest sigma so the first model input has the expected magnitude.
func (e *EulerDiscrete) InitNoiseSigma() float32 {
	if e.active != nil {
		return float32(e.active[0])
	}
	return float32(e.sigmas[len(e.sigmas)-1])
}

func (e *EulerDiscrete) ScaleModelInput(sample *tensor.Tensor, t int) (*tensor.Tensor, error) {
	if e.timesteps == nil {
		return nil, ErrNotConfigured
	}
	i, ok := e.index[t]
	if !ok {
		return nil, ErrUnknownTimestep
	}
	sigma := e.active[i]
	return tensor.Scale(sample, float32(1/math.Sqrt(sigma*sigma+1))), nil
}

func (e *EulerDiscrete) Step(residual *tensor.Tensor, t int, sample *tensor.Tensor) (*tensor.Tensor, error) {
	i, err := e.lookup(residual, t, sample)
	if err != nil {
		return nil, err
	}
	dt := float32(e.active[i+1] - e.active[i])
	return tensor.AddScaled(sample, residual, dt)
}
