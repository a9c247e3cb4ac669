// Package trainer launches the external fine-tuning entry points. pigment
// owns argument construction, environment setup, and process supervision;
// the training computation itself belongs to the external framework, which
// also owns the format of everything written to the output directory.
package trainer

import (
	"fmt"
	"os"
	"strconv"
)

// Variant identifies a fine-tuning entry point.
type Variant string

const (
	VariantControlNet        Variant = "controlnet"
	VariantDreamBoothInpaint Variant = "dreambooth-inpaint"
	VariantSDXL              Variant = "sdxl"
)

// Config collects everything a training run needs. All hyperparameters are
// forwarded verbatim to the entry point; validation only covers what would
// make the spawn itself meaningless.
type Config struct {
	Variant Variant

	// Launcher is the command prefix, "accelerate launch" by default.
	// Script is the path to the entry point it runs.
	Launcher []string
	Script   string

	PretrainedModel string
	OutputDir       string

	// Dataset location. ControlNet and SDXL take a dataset directory;
	// DreamBooth takes instance images plus the prompt describing them.
	TrainDataDir    string
	InstanceDataDir string
	InstancePrompt  string

	// Dataset column names for the ControlNet variants. Empty means the
	// entry point's defaults.
	ImageColumn        string
	ConditioningColumn string
	CaptionColumn      string

	// Prior preservation for the DreamBooth variant.
	WithPriorPreservation bool
	ClassDataDir          string
	ClassPrompt           string
	PriorLossWeight       float64

	// ControlNet checkpoint to resume from, for the SDXL variant.
	ControlNetModel string

	Resolution                int
	LearningRate              float64
	TrainBatchSize            int
	MaxTrainSteps             int
	CheckpointingSteps        int
	GradientAccumulationSteps int
	Seed                      int64
	MixedPrecision            string

	ValidationPrompts []string
	ValidationImages  []string

	Env RunEnv
}

func defaultScript(v Variant) string {
	switch v {
	case VariantControlNet:
		return "train_controlnet.py"
	case VariantDreamBoothInpaint:
		return "train_dreambooth_inpaint.py"
	case VariantSDXL:
		return "train_controlnet_sdxl.py"
	default:
		return ""
	}
}

// Validate checks the configuration before anything is spawned. Errors
// here terminate the run immediately; nothing is retried.
func (c *Config) Validate() error {
	if script := defaultScript(c.Variant); script == "" {
		return fmt.Errorf("trainer: unknown variant %q", c.Variant)
	} else if c.Script == "" {
		c.Script = script
	}
	if len(c.Launcher) == 0 {
		c.Launcher = []string{"accelerate", "launch"}
	}

	if c.PretrainedModel == "" {
		return fmt.Errorf("trainer: pretrained model is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("trainer: output directory is required")
	}
	switch c.Variant {
	case VariantDreamBoothInpaint:
		if c.InstanceDataDir == "" {
			return fmt.Errorf("trainer: instance data directory is required for %s", c.Variant)
		}
		if _, err := os.Stat(c.InstanceDataDir); err != nil {
			return fmt.Errorf("trainer: instance data directory: %w", err)
		}
		if c.InstancePrompt == "" {
			return fmt.Errorf("trainer: instance prompt is required for %s", c.Variant)
		}
		if c.WithPriorPreservation {
			if c.ClassDataDir == "" || c.ClassPrompt == "" {
				return fmt.Errorf("trainer: prior preservation needs a class data directory and class prompt")
			}
		}
	default:
		if c.TrainDataDir == "" {
			return fmt.Errorf("trainer: training data directory is required for %s", c.Variant)
		}
		if _, err := os.Stat(c.TrainDataDir); err != nil {
			return fmt.Errorf("trainer: training data directory: %w", err)
		}
	}

	if c.LearningRate < 0 {
		return fmt.Errorf("trainer: negative learning rate %g", c.LearningRate)
	}
	if c.TrainBatchSize < 0 || c.MaxTrainSteps < 0 {
		return fmt.Errorf("trainer: negative batch size or step count")
	}
	switch c.MixedPrecision {
	case "", "no", "fp16", "bf16":
	default:
		return fmt.Errorf("trainer: unknown precision mode %q", c.MixedPrecision)
	}
	for _, img := range c.ValidationImages {
		if _, err := os.Stat(img); err != nil {
			return fmt.Errorf("trainer: validation image: %w", err)
		}
	}

	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return fmt.Errorf("trainer: create output directory: %w", err)
	}
	return nil
}

// Args builds the entry point's argument list. Unset optional values are
// omitted so the entry point's own defaults apply.
func (c *Config) Args() []string {
	args := []string{
		"--pretrained_model_name_or_path", c.PretrainedModel,
		"--output_dir", c.OutputDir,
	}
	appendOpt := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}
	appendInt := func(flag string, v int) {
		if v > 0 {
			args = append(args, flag, strconv.Itoa(v))
		}
	}

	switch c.Variant {
	case VariantDreamBoothInpaint:
		appendOpt("--instance_data_dir", c.InstanceDataDir)
		appendOpt("--instance_prompt", c.InstancePrompt)
		if c.WithPriorPreservation {
			args = append(args, "--with_prior_preservation")
			appendOpt("--class_data_dir", c.ClassDataDir)
			appendOpt("--class_prompt", c.ClassPrompt)
			if c.PriorLossWeight > 0 {
				args = append(args, "--prior_loss_weight",
					strconv.FormatFloat(c.PriorLossWeight, 'g', -1, 64))
			}
		}
	default:
		appendOpt("--train_data_dir", c.TrainDataDir)
		appendOpt("--image_column", c.ImageColumn)
		appendOpt("--conditioning_image_column", c.ConditioningColumn)
		appendOpt("--caption_column", c.CaptionColumn)
	}
	if c.Variant == VariantSDXL {
		appendOpt("--controlnet_model_name_or_path", c.ControlNetModel)
	}

	appendInt("--resolution", c.Resolution)
	if c.LearningRate > 0 {
		args = append(args, "--learning_rate", strconv.FormatFloat(c.LearningRate, 'g', -1, 64))
	}
	appendInt("--train_batch_size", c.TrainBatchSize)
	appendInt("--max_train_steps", c.MaxTrainSteps)
	appendInt("--checkpointing_steps", c.CheckpointingSteps)
	appendInt("--gradient_accumulation_steps", c.GradientAccumulationSteps)
	if c.Seed != 0 {
		args = append(args, "--seed", strconv.FormatInt(c.Seed, 10))
	}
	appendOpt("--mixed_precision", c.MixedPrecision)

	for _, p := range c.ValidationPrompts {
		args = append(args, "--validation_prompt", p)
	}
	for _, img := range c.ValidationImages {
		args = append(args, "--validation_image", img)
	}
	return args
}

// Argv is the complete command line: launcher, script, then arguments.
func (c *Config) Argv() []string {
	argv := append([]string(nil), c.Launcher...)
	argv = append(argv, c.Script)
	return append(argv, c.Args()...)
}
