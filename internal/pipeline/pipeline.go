// Package pipeline owns the denoising control loop: it walks the
// scheduler's descending timestep markers, asks the predictor for a noise
// residual at each one, steps the scheduler, and hands the final sample to
// the decoder. Each iteration depends on the previous one, so the loop is
// strictly sequential; batches run as independent replicas.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pigmentdev/pigment/internal/imaging"
	"github.com/pigmentdev/pigment/internal/logger"
	"github.com/pigmentdev/pigment/internal/predictor"
	"github.com/pigmentdev/pigment/internal/scheduler"
	"github.com/pigmentdev/pigment/internal/tensor"
)

// Pipeline wires the three collaborators of a generation run. NewScheduler
// is a factory so every run (and every batch replica) owns a private
// scheduler instance and marker sequence.
type Pipeline struct {
	NewScheduler func(seed int64) (scheduler.Scheduler, error)
	Predictor    predictor.Predictor
	Decoder      imaging.Decoder
	Log          logger.Logger
}

// Request describes one generation run.
type Request struct {
	Prompt         string
	NegativePrompt string

	Steps int
	Seed  int64

	// Sample shape handed to the predictor, [1, Channels, Height, Width].
	Width    int
	Height   int
	Channels int

	// GuidanceScale > 1 enables classifier-free guidance, which costs a
	// second predictor call per step. 0 or 1 disables it.
	GuidanceScale float32

	// Progress, when set, is called after every completed step.
	Progress func(done, total int)
}

func (r *Request) validate() error {
	if r.Steps < 1 {
		return fmt.Errorf("pipeline: steps must be >= 1, got %d", r.Steps)
	}
	if r.Width < 1 || r.Height < 1 || r.Channels < 1 {
		return fmt.Errorf("pipeline: invalid sample shape %dx%dx%d", r.Channels, r.Height, r.Width)
	}
	return nil
}

// Stats records what a run cost.
type Stats struct {
	Steps        int
	PredictCalls int
	Duration     time.Duration
}

// Result is a finished run: the decoded image tensor plus its stats.
type Result struct {
	Image *tensor.Tensor
	Seed  int64
	Stats Stats
}

// Run executes the full denoising loop once. Any failure aborts the run;
// there is no partial output.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	log := p.Log
	if log == nil {
		log = logger.Default()
	}

	sched, err := p.NewScheduler(req.Seed)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build scheduler: %w", err)
	}
	markers, err := sched.Timesteps(req.Steps)
	if err != nil {
		return nil, fmt.Errorf("pipeline: configure scheduler: %w", err)
	}

	rng := rand.New(rand.NewSource(req.Seed))
	sample, err := tensor.Randn(rng, 1, req.Channels, req.Height, req.Width)
	if err != nil {
		return nil, fmt.Errorf("pipeline: initial noise: %w", err)
	}
	if sigma := sched.InitNoiseSigma(); sigma != 1 {
		sample = tensor.Scale(sample, sigma)
	}

	var stats Stats
	start := time.Now()
	for i, t := range markers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		input, err := sched.ScaleModelInput(sample, t)
		if err != nil {
			return nil, fmt.Errorf("pipeline: scale input at t=%d: %w", t, err)
		}

		residual, calls, err := p.predict(ctx, input, t, req)
		if err != nil {
			return nil, fmt.Errorf("pipeline: predict at t=%d: %w", t, err)
		}
		stats.PredictCalls += calls

		sample, err = sched.Step(residual, t, sample)
		if err != nil {
			return nil, fmt.Errorf("pipeline: scheduler step at t=%d: %w", t, err)
		}
		stats.Steps++

		log.Debug("denoising step", "step", i+1, "total", len(markers), "timestep", t)
		if req.Progress != nil {
			req.Progress(i+1, len(markers))
		}
	}
	stats.Duration = time.Since(start)

	decoded, err := p.Decoder.Decode(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode: %w", err)
	}

	log.Info("run complete",
		"steps", stats.Steps,
		"predict_calls", stats.PredictCalls,
		"duration", stats.Duration,
		"seed", req.Seed)
	return &Result{Image: decoded, Seed: req.Seed, Stats: stats}, nil
}

// predict fetches the residual for one marker, merging conditional and
// unconditional predictions when guidance is on.
func (p *Pipeline) predict(ctx context.Context, input *tensor.Tensor, t int, req *Request) (*tensor.Tensor, int, error) {
	if req.GuidanceScale <= 1 || req.Prompt == "" {
		out, err := p.Predictor.Predict(ctx, input, t, req.Prompt)
		return out, 1, err
	}

	uncond, err := p.Predictor.Predict(ctx, input, t, req.NegativePrompt)
	if err != nil {
		return nil, 1, err
	}
	cond, err := p.Predictor.Predict(ctx, input, t, req.Prompt)
	if err != nil {
		return nil, 2, err
	}
	merged, err := tensor.Lerp(uncond, cond, req.GuidanceScale)
	return merged, 2, err
}

// RunBatch runs count independent replicas of the loop concurrently, one
// goroutine each, seeded req.Seed, req.Seed+1, … Replicas share nothing;
// results come back in seed order after the single join point. A failed
// replica cancels the rest and fails the batch.
func (p *Pipeline) RunBatch(ctx context.Context, req *Request, count int) ([]*Result, error) {
	if count < 1 {
		return nil, fmt.Errorf("pipeline: batch count must be >= 1, got %d", count)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Result, count)
	errs := make([]error, count)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replica := *req
			replica.Seed = req.Seed + int64(i)
			if i > 0 {
				// Progress reporting comes from the first replica only.
				replica.Progress = nil
			}
			res, err := p.Run(ctx, &replica)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
