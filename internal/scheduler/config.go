package scheduler

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Beta schedules understood by Config.
const (
	BetaLinear       = "linear"
	BetaScaledLinear = "scaled_linear"
)

// Config mirrors the serialized scheduler_config.json of a diffusers model
// directory. Zero fields are filled in by Default's values at validation.
type Config struct {
	ClassName         string  `json:"_class_name,omitempty"`
	NumTrainTimesteps int     `json:"num_train_timesteps"`
	BetaStart         float64 `json:"beta_start"`
	BetaEnd           float64 `json:"beta_end"`
	BetaSchedule      string  `json:"beta_schedule"`
	PredictionType    string  `json:"prediction_type"`
	ClipSample        bool    `json:"clip_sample"`
}

// Default is the configuration used when no model directory supplies one.
func Default() Config {
	return Config{
		NumTrainTimesteps: 1000,
		BetaStart:         0.00085,
		BetaEnd:           0.012,
		BetaSchedule:      BetaScaledLinear,
		PredictionType:    "epsilon",
	}
}

func (c *Config) validate() error {
	def := Default()
	if c.NumTrainTimesteps == 0 {
		c.NumTrainTimesteps = def.NumTrainTimesteps
	}
	if c.BetaStart == 0 {
		c.BetaStart = def.BetaStart
	}
	if c.BetaEnd == 0 {
		c.BetaEnd = def.BetaEnd
	}
	if c.BetaSchedule == "" {
		c.BetaSchedule = def.BetaSchedule
	}
	if c.PredictionType == "" {
		c.PredictionType = def.PredictionType
	}

	if c.NumTrainTimesteps < 1 {
		return fmt.Errorf("scheduler: num_train_timesteps must be >= 1, got %d", c.NumTrainTimesteps)
	}
	if c.BetaStart <= 0 || c.BetaEnd <= 0 || c.BetaEnd < c.BetaStart {
		return fmt.Errorf("scheduler: invalid beta range [%g, %g]", c.BetaStart, c.BetaEnd)
	}
	if c.BetaSchedule != BetaLinear && c.BetaSchedule != BetaScaledLinear {
		return fmt.Errorf("scheduler: unknown beta_schedule %q", c.BetaSchedule)
	}
	if c.PredictionType != "epsilon" {
		return fmt.Errorf("scheduler: unsupported prediction_type %q", c.PredictionType)
	}
	return nil
}

func (c Config) betas() ([]float64, error) {
	n := c.NumTrainTimesteps
	betas := make([]float64, n)
	switch c.BetaSchedule {
	case BetaLinear:
		for i := range betas {
			betas[i] = linstep(c.BetaStart, c.BetaEnd, i, n)
		}
	case BetaScaledLinear:
		lo, hi := math.Sqrt(c.BetaStart), math.Sqrt(c.BetaEnd)
		for i := range betas {
			v := linstep(lo, hi, i, n)
			betas[i] = v * v
		}
	default:
		return nil, fmt.Errorf("scheduler: unknown beta_schedule %q", c.BetaSchedule)
	}
	return betas, nil
}

func linstep(lo, hi float64, i, n int) float64 {
	if n == 1 {
		return lo
	}
	return lo + (hi-lo)*float64(i)/float64(n-1)
}

// LoadConfig reads a scheduler_config.json file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("scheduler: read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("scheduler: parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromDir builds a scheduler from a diffusers-layout model directory,
// honoring the _class_name recorded in scheduler/scheduler_config.json.
// seed feeds the DDPM ancestral noise source; Euler ignores it.
func FromDir(modelDir string, seed int64) (Scheduler, error) {
	cfg, err := LoadConfig(filepath.Join(modelDir, "scheduler", "scheduler_config.json"))
	if err != nil {
		return nil, err
	}
	return New(cfg.ClassName, cfg, seed)
}

// New builds a scheduler by kind name. Both diffusers class names and the
// short names used by pigment's CLI are accepted; empty means DDPM.
func New(kind string, cfg Config, seed int64) (Scheduler, error) {
	switch kind {
	case "", "ddpm", "DDPMScheduler":
		return NewDDPM(cfg, seed)
	case "euler", "EulerDiscreteScheduler":
		return NewEulerDiscrete(cfg)
	default:
		return nil, fmt.Errorf("scheduler: unknown scheduler %q", kind)
	}
}
