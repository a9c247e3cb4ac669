package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/pigmentdev/pigment/internal/trainer"
)

// splitLauncher turns "accelerate launch" into its argv prefix.
func splitLauncher(s string) []string {
	return strings.Fields(s)
}

func trainCmd() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Launch a fine-tuning run",
		Commands: []*cli.Command{
			trainVariantCmd(trainer.VariantControlNet,
				"Fine-tune a ControlNet on a conditioning dataset"),
			trainVariantCmd(trainer.VariantDreamBoothInpaint,
				"DreamBooth fine-tuning of an inpainting model on instance images"),
			trainVariantCmd(trainer.VariantSDXL,
				"Fine-tune a ControlNet against an SDXL base model"),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowSubcommandHelp(cmd)
		},
	}
}

func trainVariantCmd(variant trainer.Variant, usage string) *cli.Command {
	var (
		pretrainedModel string
		outputDir       string
		trainDataDir    string
		instanceDataDir string
		instancePrompt  string
		controlnetModel string

		imageColumn        string
		conditioningColumn string
		captionColumn      string

		priorPreservation bool
		classDataDir      string
		classPrompt       string
		priorLossWeight   float64

		script   string
		launcher string

		resolution        int64
		learningRate      float64
		batchSize         int64
		maxSteps          int64
		checkpointSteps   int64
		gradAccumSteps    int64
		seed              int64
		mixedPrecision    string
		validationPrompts []string
		validationImages  []string
		hubToken          string
		cacheDir          string
		envFile           string
		disableTelemetry  bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "pretrained-model",
			Aliases:     []string{"model", "m"},
			Usage:       "base model to fine-tune (path or hub name)",
			Required:    true,
			Destination: &pretrainedModel,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "output directory for weights and checkpoints",
			Required:    true,
			Destination: &outputDir,
		},
		&cli.StringFlag{
			Name:        "script",
			Usage:       "override the training entry point path",
			Destination: &script,
		},
		&cli.StringFlag{
			Name:        "launcher",
			Usage:       "launcher command prefix",
			Value:       "accelerate launch",
			Destination: &launcher,
		},
		&cli.Int64Flag{
			Name:        "resolution",
			Usage:       "training image resolution",
			Destination: &resolution,
		},
		&cli.Float64Flag{
			Name:        "learning-rate",
			Aliases:     []string{"lr"},
			Usage:       "optimizer learning rate",
			Destination: &learningRate,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Usage:       "per-device training batch size",
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "max-steps",
			Usage:       "stop after this many optimization steps",
			Destination: &maxSteps,
		},
		&cli.Int64Flag{
			Name:        "checkpointing-steps",
			Usage:       "write a checkpoint every N steps",
			Destination: &checkpointSteps,
		},
		&cli.Int64Flag{
			Name:        "gradient-accumulation-steps",
			Usage:       "accumulate gradients over N batches",
			Destination: &gradAccumSteps,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "training seed",
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "mixed-precision",
			Usage:       "precision mode (no, fp16, bf16)",
			Destination: &mixedPrecision,
		},
		&cli.StringSliceFlag{
			Name:        "validation-prompt",
			Usage:       "prompt rendered during validation (repeatable)",
			Destination: &validationPrompts,
		},
		&cli.StringSliceFlag{
			Name:        "validation-image",
			Usage:       "conditioning image used during validation (repeatable)",
			Destination: &validationImages,
		},
		&cli.StringFlag{
			Name:        "hub-token",
			Usage:       "model hub access token",
			Sources:     cli.EnvVars("HF_TOKEN"),
			Destination: &hubToken,
		},
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "model cache directory",
			Sources:     cli.EnvVars("HF_HOME"),
			Destination: &cacheDir,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "dotenv file of extra environment variables for the trainer",
			Destination: &envFile,
		},
		&cli.BoolFlag{
			Name:        "disable-telemetry",
			Usage:       "opt the training framework out of usage reporting",
			Value:       true,
			Destination: &disableTelemetry,
		},
	}

	switch variant {
	case trainer.VariantDreamBoothInpaint:
		flags = append(flags,
			&cli.StringFlag{
				Name:        "instance-data-dir",
				Usage:       "directory of instance images",
				Required:    true,
				Destination: &instanceDataDir,
			},
			&cli.StringFlag{
				Name:        "instance-prompt",
				Usage:       "prompt describing the instance images",
				Required:    true,
				Destination: &instancePrompt,
			},
			&cli.BoolFlag{
				Name:        "with-prior-preservation",
				Usage:       "add a prior preservation loss over class images",
				Destination: &priorPreservation,
			},
			&cli.StringFlag{
				Name:        "class-data-dir",
				Usage:       "directory of class images for prior preservation",
				Destination: &classDataDir,
			},
			&cli.StringFlag{
				Name:        "class-prompt",
				Usage:       "prompt describing the class images",
				Destination: &classPrompt,
			},
			&cli.Float64Flag{
				Name:        "prior-loss-weight",
				Usage:       "weight of the prior preservation loss",
				Destination: &priorLossWeight,
			},
		)
	default:
		flags = append(flags,
			&cli.StringFlag{
				Name:        "train-data-dir",
				Aliases:     []string{"data"},
				Usage:       "training dataset directory",
				Required:    true,
				Destination: &trainDataDir,
			},
			&cli.StringFlag{
				Name:        "image-column",
				Usage:       "dataset column holding target images",
				Destination: &imageColumn,
			},
			&cli.StringFlag{
				Name:        "conditioning-image-column",
				Usage:       "dataset column holding conditioning images",
				Destination: &conditioningColumn,
			},
			&cli.StringFlag{
				Name:        "caption-column",
				Usage:       "dataset column holding captions",
				Destination: &captionColumn,
			},
		)
	}
	if variant == trainer.VariantSDXL {
		flags = append(flags, &cli.StringFlag{
			Name:        "controlnet-model",
			Usage:       "ControlNet checkpoint to resume from",
			Destination: &controlnetModel,
		})
	}
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  string(variant),
		Usage: usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := setupLogger()

			cfg := &trainer.Config{
				Variant:         variant,
				Launcher:        splitLauncher(launcher),
				Script:          script,
				PretrainedModel: pretrainedModel,
				OutputDir:       outputDir,
				TrainDataDir:    trainDataDir,
				InstanceDataDir: instanceDataDir,
				InstancePrompt:  instancePrompt,
				ControlNetModel: controlnetModel,

				ImageColumn:        imageColumn,
				ConditioningColumn: conditioningColumn,
				CaptionColumn:      captionColumn,

				WithPriorPreservation: priorPreservation,
				ClassDataDir:          classDataDir,
				ClassPrompt:           classPrompt,
				PriorLossWeight:       priorLossWeight,

				Resolution:                int(resolution),
				LearningRate:              learningRate,
				TrainBatchSize:            int(batchSize),
				MaxTrainSteps:             int(maxSteps),
				CheckpointingSteps:        int(checkpointSteps),
				GradientAccumulationSteps: int(gradAccumSteps),
				Seed:                      seed,
				MixedPrecision:            mixedPrecision,
				ValidationPrompts:         validationPrompts,
				ValidationImages:          validationImages,

				Env: trainer.RunEnv{
					DisableTelemetry: disableTelemetry,
					CacheDir:         cacheDir,
					Token:            hubToken,
					EnvFile:          envFile,
				},
			}

			run, err := trainer.Start(ctx, cfg, log)
			if err != nil {
				return err
			}
			return run.Wait()
		},
	}
}
