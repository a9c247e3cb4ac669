package scheduler

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pigmentdev/pigment/internal/tensor"
)

func TestTimespace(t *testing.T) {
	t.Run("fifty steps over the default range", func(t *testing.T) {
		ts, err := timespace(1000, 50)
		if err != nil {
			t.Fatalf("timespace: %v", err)
		}
		if len(ts) != 50 {
			t.Fatalf("expected 50 markers, got %d", len(ts))
		}
		if ts[0] != 999 {
			t.Fatalf("first marker: got %d want 999", ts[0])
		}
		if ts[len(ts)-1] != 0 {
			t.Fatalf("last marker: got %d want 0", ts[len(ts)-1])
		}
		for i := 1; i < len(ts); i++ {
			if ts[i] >= ts[i-1] {
				t.Fatalf("sequence not strictly descending at %d: %d then %d", i, ts[i-1], ts[i])
			}
		}
	})

	t.Run("single step", func(t *testing.T) {
		ts, err := timespace(1000, 1)
		if err != nil {
			t.Fatalf("timespace: %v", err)
		}
		if len(ts) != 1 || ts[0] != 999 {
			t.Fatalf("unexpected sequence: %v", ts)
		}
	})

	t.Run("full resolution", func(t *testing.T) {
		ts, err := timespace(1000, 1000)
		if err != nil {
			t.Fatalf("timespace: %v", err)
		}
		for i, v := range ts {
			if v != 999-i {
				t.Fatalf("marker %d: got %d want %d", i, v, 999-i)
			}
		}
	})

	t.Run("rejects zero steps", func(t *testing.T) {
		if _, err := timespace(1000, 0); err == nil {
			t.Fatal("expected error for step count 0")
		}
	})

	t.Run("rejects more steps than training range", func(t *testing.T) {
		if _, err := timespace(1000, 1001); err == nil {
			t.Fatal("expected error for step count above training timesteps")
		}
	})
}

func sampleTensors(t *testing.T) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	sample, err := tensor.Randn(rng, 1, 4, 8, 8)
	if err != nil {
		t.Fatalf("Randn: %v", err)
	}
	residual, err := tensor.Randn(rng, 1, 4, 8, 8)
	if err != nil {
		t.Fatalf("Randn: %v", err)
	}
	return sample, residual
}

func TestDDPMStep(t *testing.T) {
	t.Run("step before configure fails", func(t *testing.T) {
		d, err := NewDDPM(Default(), 0)
		if err != nil {
			t.Fatalf("NewDDPM: %v", err)
		}
		sample, residual := sampleTensors(t)
		if _, err := d.Step(residual, 999, sample); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("unknown marker rejected", func(t *testing.T) {
		d, _ := NewDDPM(Default(), 0)
		if _, err := d.Timesteps(50); err != nil {
			t.Fatalf("Timesteps: %v", err)
		}
		sample, residual := sampleTensors(t)
		if _, err := d.Step(residual, 998, sample); !errors.Is(err, ErrUnknownTimestep) {
			t.Fatalf("expected ErrUnknownTimestep, got %v", err)
		}
	})

	t.Run("shape mismatch rejected", func(t *testing.T) {
		d, _ := NewDDPM(Default(), 0)
		ts, _ := d.Timesteps(50)
		sample, _ := sampleTensors(t)
		bad := tensor.MustNew(1, 4, 8, 9)
		if _, err := d.Step(bad, ts[0], sample); !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Fatalf("expected shape mismatch, got %v", err)
		}
	})

	t.Run("same seed gives identical trajectories", func(t *testing.T) {
		run := func() []float32 {
			d, err := NewDDPM(Default(), 42)
			if err != nil {
				t.Fatalf("NewDDPM: %v", err)
			}
			ts, err := d.Timesteps(10)
			if err != nil {
				t.Fatalf("Timesteps: %v", err)
			}
			sample, residual := sampleTensors(t)
			for _, marker := range ts {
				sample, err = d.Step(residual, marker, sample)
				if err != nil {
					t.Fatalf("Step(%d): %v", marker, err)
				}
			}
			return sample.Data
		}
		a, b := run(), run()
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("trajectories diverge at element %d: %v vs %v", i, a[i], b[i])
			}
		}
	})

	t.Run("Timesteps rewinds the noise source", func(t *testing.T) {
		d, _ := NewDDPM(Default(), 42)
		sample, residual := sampleTensors(t)

		ts, _ := d.Timesteps(10)
		first, err := d.Step(residual, ts[0], sample)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}

		if _, err := d.Timesteps(10); err != nil {
			t.Fatalf("Timesteps: %v", err)
		}
		second, err := d.Step(residual, ts[0], sample)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		for i := range first.Data {
			if first.Data[i] != second.Data[i] {
				t.Fatalf("reconfigured scheduler diverged at element %d", i)
			}
		}
	})

	t.Run("final step adds no noise", func(t *testing.T) {
		// t == 0 takes the deterministic branch, so two instances with
		// different seeds must agree on it.
		sample, residual := sampleTensors(t)

		step0 := func(seed int64) *tensor.Tensor {
			d, _ := NewDDPM(Default(), seed)
			if _, err := d.Timesteps(1000); err != nil {
				t.Fatalf("Timesteps: %v", err)
			}
			out, err := d.Step(residual, 0, sample)
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			return out
		}
		a, b := step0(1), step0(2)
		for i := range a.Data {
			if a.Data[i] != b.Data[i] {
				t.Fatal("terminal step depended on the noise seed")
			}
		}
	})
}

func TestEulerDiscrete(t *testing.T) {
	t.Run("zero residual is a fixed point", func(t *testing.T) {
		e, err := NewEulerDiscrete(Default())
		if err != nil {
			t.Fatalf("NewEulerDiscrete: %v", err)
		}
		ts, err := e.Timesteps(20)
		if err != nil {
			t.Fatalf("Timesteps: %v", err)
		}
		sample, _ := sampleTensors(t)
		zero := tensor.MustNew(1, 4, 8, 8)

		out := sample
		for _, marker := range ts {
			out, err = e.Step(zero, marker, out)
			if err != nil {
				t.Fatalf("Step(%d): %v", marker, err)
			}
		}
		for i := range out.Data {
			if out.Data[i] != sample.Data[i] {
				t.Fatalf("zero residual changed the sample at element %d", i)
			}
		}
	})

	t.Run("deterministic across instances", func(t *testing.T) {
		sample, residual := sampleTensors(t)
		run := func() []float32 {
			e, _ := NewEulerDiscrete(Default())
			ts, _ := e.Timesteps(25)
			cur := sample.Clone()
			for _, marker := range ts {
				var err error
				cur, err = e.Step(residual, marker, cur)
				if err != nil {
					t.Fatalf("Step: %v", err)
				}
			}
			return cur.Data
		}
		a, b := run(), run()
		for i := range a {
			if a[i] != b[i] {
				t.Fatal("Euler scheduler is not deterministic")
			}
		}
	})

	t.Run("init noise sigma is the largest sigma", func(t *testing.T) {
		e, _ := NewEulerDiscrete(Default())
		if _, err := e.Timesteps(30); err != nil {
			t.Fatalf("Timesteps: %v", err)
		}
		got := float64(e.InitNoiseSigma())
		acp := e.alphasCumprod[999]
		want := math.Sqrt((1 - acp) / acp)
		if math.Abs(got-want) > 1e-4 {
			t.Fatalf("init noise sigma: got %v want %v", got, want)
		}
		if got <= 1 {
			t.Fatalf("expected init sigma well above 1, got %v", got)
		}
	})

	t.Run("scale model input shrinks high-sigma samples", func(t *testing.T) {
		e, _ := NewEulerDiscrete(Default())
		ts, _ := e.Timesteps(30)
		sample, _ := sampleTensors(t)

		scaled, err := e.ScaleModelInput(sample, ts[0])
		if err != nil {
			t.Fatalf("ScaleModelInput: %v", err)
		}
		if math.Abs(float64(scaled.Data[0])) >= math.Abs(float64(sample.Data[0])) {
			t.Fatal("expected input scaling to shrink the sample at the first marker")
		}

		if _, err := e.ScaleModelInput(sample, 12345); !errors.Is(err, ErrUnknownTimestep) {
			t.Fatalf("expected ErrUnknownTimestep, got %v", err)
		}
	})
}

func TestConfig(t *testing.T) {
	t.Run("defaults fill zero fields", func(t *testing.T) {
		var cfg Config
		if err := cfg.validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if cfg.NumTrainTimesteps != 1000 || cfg.BetaSchedule != BetaScaledLinear {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
	})

	t.Run("scaled linear beta endpoints", func(t *testing.T) {
		betas, err := Default().betas()
		if err != nil {
			t.Fatalf("betas: %v", err)
		}
		if math.Abs(betas[0]-0.00085) > 1e-9 {
			t.Fatalf("beta[0]: got %v want 0.00085", betas[0])
		}
		if math.Abs(betas[999]-0.012) > 1e-9 {
			t.Fatalf("beta[999]: got %v want 0.012", betas[999])
		}
	})

	t.Run("rejects unsupported prediction type", func(t *testing.T) {
		cfg := Default()
		cfg.PredictionType = "v_prediction"
		if _, err := NewDDPM(cfg, 0); err == nil {
			t.Fatal("expected error for v_prediction")
		}
	})

	t.Run("rejects inverted beta range", func(t *testing.T) {
		cfg := Default()
		cfg.BetaStart, cfg.BetaEnd = 0.02, 0.001
		if _, err := NewEulerDiscrete(cfg); err == nil {
			t.Fatal("expected error for inverted beta range")
		}
	})
}

func TestFromDir(t *testing.T) {
	dir := t.TempDir()
	schedDir := filepath.Join(dir, "scheduler")
	if err := os.MkdirAll(schedDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgJSON := `{
		"_class_name": "EulerDiscreteScheduler",
		"num_train_timesteps": 1000,
		"beta_start": 0.00085,
		"beta_end": 0.012,
		"beta_schedule": "scaled_linear",
		"prediction_type": "epsilon"
	}`
	if err := os.WriteFile(filepath.Join(schedDir, "scheduler_config.json"), []byte(cfgJSON), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := FromDir(dir, 0)
	if err != nil {
		t.Fatalf("FromDir: %v", err)
	}
	if _, ok := s.(*EulerDiscrete); !ok {
		t.Fatalf("expected EulerDiscrete, got %T", s)
	}

	t.Run("missing config", func(t *testing.T) {
		if _, err := FromDir(t.TempDir(), 0); err == nil {
			t.Fatal("expected error for missing scheduler config")
		}
	})
}

func TestNewByKind(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"", false},
		{"ddpm", false},
		{"DDPMScheduler", false},
		{"euler", false},
		{"EulerDiscreteScheduler", false},
		{"plms", true},
	}
	for _, tc := range tests {
		_, err := New(tc.kind, Default(), 0)
		if tc.wantErr != (err != nil) {
			t.Errorf("New(%q): err = %v, wantErr = %v", tc.kind, err, tc.wantErr)
		}
	}
}
