package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the pigment configuration file
// (~/.config/pigment/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	ModelDir     string `yaml:"model_dir"`
	PredictorURL string `yaml:"predictor_url"`
	Scheduler    string `yaml:"scheduler"`

	// Generation defaults
	Steps         *int64   `yaml:"steps"`
	Seed          *int64   `yaml:"seed"`
	Width         *int64   `yaml:"width"`
	Height        *int64   `yaml:"height"`
	GuidanceScale *float64 `yaml:"guidance_scale"`
	OutputDir     string   `yaml:"output_dir"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pigment", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyCommonConfig applies config file defaults to the shared flag
// variables when the corresponding CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.ModelDir != "" && !c.IsSet("model") {
		modelDir = cfg.ModelDir
	}
	if cfg.PredictorURL != "" && !c.IsSet("predictor-url") {
		predictorURL = cfg.PredictorURL
	}
	if cfg.Scheduler != "" && !c.IsSet("scheduler") {
		schedulerKind = cfg.Scheduler
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyGenerateConfig applies config file defaults to generate command
// variables.
func applyGenerateConfig(c *cli.Command, cfg Config,
	steps *int64, seed *int64, width *int64, height *int64,
	guidance *float64, outputDir *string,
) {
	applyCommonConfig(c, cfg)
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.Width != nil && !c.IsSet("width") {
		*width = *cfg.Width
	}
	if cfg.Height != nil && !c.IsSet("height") {
		*height = *cfg.Height
	}
	if cfg.GuidanceScale != nil && !c.IsSet("guidance-scale") && !c.IsSet("guidance") {
		*guidance = *cfg.GuidanceScale
	}
	if cfg.OutputDir != "" && !c.IsSet("out") {
		*outputDir = cfg.OutputDir
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
