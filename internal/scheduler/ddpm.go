package scheduler

import (
	"math"
	"math/rand"

	"github.com/pigmentdev/pigment/internal/tensor"
)

// DDPM is the ancestral denoising scheduler. Each Step draws variance noise
// from a source seeded at construction, so a given (config, seed, step
// count) triple always produces the same trajectory. Timesteps rewinds the
// noise source, making repeated runs on one instance reproducible too.
type DDPM struct {
	*schedule
	seed int64
	rng  *rand.Rand
}

func NewDDPM(cfg Config, seed int64) (*DDPM, error) {
	sched, err := newSchedule(cfg)
	if err != nil {
		return nil, err
	}
	return &DDPM{
		schedule: sched,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (d *DDPM) Timesteps(stepCount int) ([]int, error) {
	ts, err := d.configure(stepCount)
	if err != nil {
		return nil, err
	}
	d.rng = rand.New(rand.NewSource(d.seed))
	return ts, nil
}

func (d *DDPM) InitNoiseSigma() float32 { return 1 }

func (d *DDPM) ScaleModelInput(sample *tensor.Tensor, _ int) (*tensor.Tensor, error) {
	return sample, nil
}

func (d *DDPM) Step(residual *tensor.Tensor, t int, sample *tensor.Tensor) (*tensor.Tensor, error) {
	i, err := d.lookup(residual, t, sample)
	if err != nil {
		return nil, err
	}

	prevT := d.prevTimestep(i)
	alphaProd := d.alphasCumprod[t]
	alphaProdPrev := 1.0
	if prevT >= 0 {
		alphaProdPrev = d.alphasCumprod[prevT]
	}
	betaProd := 1 - alphaProd
	currentAlpha := alphaProd / alphaProdPrev
	currentBeta := 1 - currentAlpha

	// Recover the model's estimate of the clean sample from the epsilon
	// prediction, then form the posterior mean.
	sqrtAlphaProd := math.Sqrt(alphaProd)
	sqrtBetaProd := math.Sqrt(betaProd)
	origCoeff := math.Sqrt(alphaProdPrev) * currentBeta / betaProd
	sampleCoeff := math.Sqrt(currentAlpha) * (1 - alphaProdPrev) / betaProd

	next := sample.Clone()
	for j := range next.Data {
		predOrig := (float64(sample.Data[j]) - sqrtBetaProd*float64(residual.Data[j])) / sqrtAlphaProd
		if d.cfg.ClipSample {
			predOrig = math.Max(-1, math.Min(1, predOrig))
		}
		next.Data[j] = float32(origCoeff*predOrig + sampleCoeff*float64(sample.Data[j]))
	}

	// Ancestral noise for every step but the last.
	if t > 0 {
		variance := (1 - alphaProdPrev) / (1 - alphaProd) * currentBeta
		if variance < 1e-20 {
			variance = 1e-20
		}
		stddev := math.Sqrt(variance)
		for j := range next.Data {
			next.Data[j] += float32(stddev * d.rng.NormFloat64())
		}
	}
	return next, nil
}
