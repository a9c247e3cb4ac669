// Package scheduler implements the noise schedulers consumed by the
// denoising pipeline: DDPM (ancestral, stochastic per seed) and Euler
// discrete (deterministic). Both follow the diffusers scheduler contract:
// Timesteps produces the descending marker sequence for a run, Step turns a
// residual prediction plus the current sample into the next sample.
package scheduler

import (
	"fmt"
	"math"

	"github.com/pigmentdev/pigment/internal/tensor"
)

// Scheduler is the contract the pipeline drives.
type Scheduler interface {
	// Timesteps returns the strictly descending integer markers for a run
	// of stepCount steps and resets internal iteration state. The first
	// marker is always numTrainTimesteps-1 and the last is always 0.
	Timesteps(stepCount int) ([]int, error)

	// Step converts the residual predicted at marker t into the next, less
	// noisy sample. t must come from the preceding Timesteps call and
	// residual must match sample's shape; both are checked before any
	// numeric work.
	Step(residual *tensor.Tensor, t int, sample *tensor.Tensor) (*tensor.Tensor, error)

	// InitNoiseSigma is the factor the initial noise tensor is scaled by.
	InitNoiseSigma() float32

	// ScaleModelInput applies the scheduler's per-timestep input scaling
	// before the sample is handed to the predictor.
	ScaleModelInput(sample *tensor.Tensor, t int) (*tensor.Tensor, error)
}

var (
	// ErrNotConfigured is returned by Step before any Timesteps call.
	ErrNotConfigured = fmt.Errorf("scheduler: not configured, call Timesteps first")
	// ErrUnknownTimestep is returned when Step sees a marker that the
	// preceding Timesteps call did not produce.
	ErrUnknownTimestep = fmt.Errorf("scheduler: timestep not in configured sequence")
)

// timespace computes the shared marker sequence: stepCount integers evenly
// spread over [0, trainSteps-1], descending, endpoints pinned.
func timespace(trainSteps, stepCount int) ([]int, error) {
	if stepCount < 1 {
		return nil, fmt.Errorf("scheduler: step count must be >= 1, got %d", stepCount)
	}
	if stepCount > trainSteps {
		return nil, fmt.Errorf("scheduler: step count %d exceeds training timesteps %d", stepCount, trainSteps)
	}
	if stepCount == 1 {
		return []int{trainSteps - 1}, nil
	}
	ts := make([]int, stepCount)
	span := float64(trainSteps - 1)
	for i := range ts {
		frac := float64(stepCount-1-i) / float64(stepCount-1)
		ts[i] = int(math.Round(span * frac))
	}
	return ts, nil
}

// schedule holds the beta-derived tables shared by all schedulers and the
// per-run marker bookkeeping.
type schedule struct {
	cfg           Config
	alphasCumprod []float64

	timesteps []int
	index     map[int]int // marker -> position in timesteps
}

func newSchedule(cfg Config) (*schedule, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	betas, err := cfg.betas()
	if err != nil {
		return nil, err
	}
	acp := make([]float64, len(betas))
	prod := 1.0
	for i, b := range betas {
		prod *= 1 - b
		acp[i] = prod
	}
	return &schedule{cfg: cfg, alphasCumprod: acp}, nil
}

func (s *schedule) configure(stepCount int) ([]int, error) {
	ts, err := timespace(s.cfg.NumTrainTimesteps, stepCount)
	if err != nil {
		return nil, err
	}
	s.timesteps = ts
	s.index = make(map[int]int, len(ts))
	for i, t := range ts {
		s.index[t] = i
	}
	return append([]int(nil), ts...), nil
}

// lookup validates a Step call's inputs and returns the marker's position
// in the configured sequence.
func (s *schedule) lookup(residual *tensor.Tensor, t int, sample *tensor.Tensor) (int, error) {
	if s.timesteps == nil {
		return 0, ErrNotConfigured
	}
	i, ok := s.index[t]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTimestep, t)
	}
	if !residual.SameShape(sample) {
		return 0, fmt.Errorf("scheduler: residual shape %v does not match sample shape %v: %w",
			residual.Shape, sample.Shape, tensor.ErrShapeMismatch)
	}
	return i, nil
}

// prevTimestep returns the marker following position i, or -1 past the end.
func (s *schedule) prevTimestep(i int) int {
	if i+1 < len(s.timesteps) {
		return s.timesteps[i+1]
	}
	return -1
}
