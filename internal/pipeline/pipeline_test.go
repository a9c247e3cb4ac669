package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/pigmentdev/pigment/internal/imaging"
	"github.com/pigmentdev/pigment/internal/predictor"
	"github.com/pigmentdev/pigment/internal/scheduler"
	"github.com/pigmentdev/pigment/internal/tensor"
)

type countingPredictor struct {
	inner predictor.Predictor
	calls atomic.Int64
}

func (c *countingPredictor) Predict(ctx context.Context, sample *tensor.Tensor, t int, cond string) (*tensor.Tensor, error) {
	c.calls.Add(1)
	return c.inner.Predict(ctx, sample, t, cond)
}

type badShapePredictor struct{}

func (badShapePredictor) Predict(ctx context.Context, sample *tensor.Tensor, t int, cond string) (*tensor.Tensor, error) {
	return tensor.MustNew(1, 1, 2, 2), nil
}

func testPipeline(p predictor.Predictor) *Pipeline {
	return &Pipeline{
		NewScheduler: func(seed int64) (scheduler.Scheduler, error) {
			return scheduler.NewDDPM(scheduler.Default(), seed)
		},
		Predictor: p,
		Decoder:   imaging.PixelDecoder{},
	}
}

func baseRequest() *Request {
	return &Request{
		Prompt:   "a lighthouse at dusk",
		Steps:    8,
		Seed:     0,
		Width:    8,
		Height:   8,
		Channels: 3,
	}
}

func TestRunCallsPredictorExactlyOncePerStep(t *testing.T) {
	counter := &countingPredictor{inner: predictor.Stub{}}
	p := testPipeline(counter)

	res, err := p.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := counter.calls.Load(); got != 8 {
		t.Fatalf("predictor calls: got %d want 8", got)
	}
	if res.Stats.Steps != 8 || res.Stats.PredictCalls != 8 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
}

func TestRunDeterministicPerSeed(t *testing.T) {
	p := testPipeline(predictor.Stub{})

	run := func(seed int64) []float32 {
		req := baseRequest()
		req.Seed = seed
		res, err := p.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res.Image.Data
	}

	a, b := run(5), run(5)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at element %d", i)
		}
	}

	c := run(6)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical output")
	}
}

func TestRunOutputShape(t *testing.T) {
	p := testPipeline(predictor.Stub{})
	req := baseRequest()
	req.Width, req.Height, req.Channels = 24, 16, 3

	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{1, 3, 16, 24}
	for i, d := range want {
		if res.Image.Shape[i] != d {
			t.Fatalf("output shape: got %v want %v", res.Image.Shape, want)
		}
	}
}

func TestRunGuidanceDoublesPredictCalls(t *testing.T) {
	counter := &countingPredictor{inner: predictor.Stub{}}
	p := testPipeline(counter)

	req := baseRequest()
	req.GuidanceScale = 7.5
	req.NegativePrompt = "blurry"

	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := counter.calls.Load(); got != 16 {
		t.Fatalf("predictor calls with guidance: got %d want 16", got)
	}
	if res.Stats.PredictCalls != 16 {
		t.Fatalf("stats predict calls: got %d want 16", res.Stats.PredictCalls)
	}
}

func TestRunProgress(t *testing.T) {
	p := testPipeline(predictor.Stub{})
	req := baseRequest()

	var ticks [][2]int
	req.Progress = func(done, total int) {
		ticks = append(ticks, [2]int{done, total})
	}

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ticks) != req.Steps {
		t.Fatalf("progress ticks: got %d want %d", len(ticks), req.Steps)
	}
	last := ticks[len(ticks)-1]
	if last[0] != req.Steps || last[1] != req.Steps {
		t.Fatalf("final tick: got %v want [%d %d]", last, req.Steps, req.Steps)
	}
}

func TestRunAbortsOnBadResidualShape(t *testing.T) {
	p := testPipeline(badShapePredictor{})

	_, err := p.Run(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected error for mismatched residual shape")
	}
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch in chain, got %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testPipeline(predictor.Stub{})
	if _, err := p.Run(ctx, baseRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunValidation(t *testing.T) {
	p := testPipeline(predictor.Stub{})

	t.Run("zero steps", func(t *testing.T) {
		req := baseRequest()
		req.Steps = 0
		if _, err := p.Run(context.Background(), req); err == nil {
			t.Fatal("expected error for zero steps")
		}
	})

	t.Run("bad shape", func(t *testing.T) {
		req := baseRequest()
		req.Width = 0
		if _, err := p.Run(context.Background(), req); err == nil {
			t.Fatal("expected error for zero width")
		}
	})
}

func TestRunBatch(t *testing.T) {
	t.Run("replicas are independent and ordered", func(t *testing.T) {
		p := testPipeline(predictor.Stub{})
		req := baseRequest()

		results, err := p.RunBatch(context.Background(), req, 3)
		if err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}

		for i, res := range results {
			wantSeed := req.Seed + int64(i)
			if res.Seed != wantSeed {
				t.Fatalf("result %d seed: got %d want %d", i, res.Seed, wantSeed)
			}

			// Each replica must match a solo run with the same seed.
			solo := baseRequest()
			solo.Seed = wantSeed
			ref, err := p.Run(context.Background(), solo)
			if err != nil {
				t.Fatalf("solo run: %v", err)
			}
			for j := range ref.Image.Data {
				if res.Image.Data[j] != ref.Image.Data[j] {
					t.Fatalf("replica %d differs from solo run at element %d", i, j)
				}
			}
		}
	})

	t.Run("failure cancels the batch", func(t *testing.T) {
		p := testPipeline(badShapePredictor{})
		if _, err := p.RunBatch(context.Background(), baseRequest(), 4); err == nil {
			t.Fatal("expected batch failure")
		}
	})

	t.Run("zero count rejected", func(t *testing.T) {
		p := testPipeline(predictor.Stub{})
		if _, err := p.RunBatch(context.Background(), baseRequest(), 0); err == nil {
			t.Fatal("expected error for zero count")
		}
	})
}
