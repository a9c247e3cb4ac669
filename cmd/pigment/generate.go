package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/pigmentdev/pigment/internal/imaging"
	"github.com/pigmentdev/pigment/internal/logger"
	"github.com/pigmentdev/pigment/internal/pipeline"
	"github.com/pigmentdev/pigment/internal/predictor"
	"github.com/pigmentdev/pigment/internal/scheduler"
)

func generateCmd() *cli.Command {
	var (
		prompt         string
		negativePrompt string
		steps          int64
		seed           int64
		width          int64
		height         int64
		channels       int64
		guidance       float64
		batch          int64
		outputDir      string
		prefix         string
		noProgress     bool
	)

	return &cli.Command{
		Name:      "generate",
		Usage:     "Run the denoising pipeline and write PNG images",
		ArgsUsage: "[prompt]",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "text prompt (also accepted as the positional argument)",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "negative-prompt",
				Aliases:     []string{"negative_prompt", "n"},
				Usage:       "negative prompt used for guidance",
				Destination: &negativePrompt,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"s"},
				Usage:       "number of denoising steps",
				Value:       50,
				Destination: &steps,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "generation seed (default -1 = random)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "width",
				Aliases:     []string{"W"},
				Usage:       "output width in pixels",
				Value:       512,
				Destination: &width,
			},
			&cli.Int64Flag{
				Name:        "height",
				Aliases:     []string{"H"},
				Usage:       "output height in pixels",
				Value:       512,
				Destination: &height,
			},
			&cli.Int64Flag{
				Name:        "channels",
				Usage:       "sample channel count (0 = auto: 4 latent, 3 for dry runs)",
				Destination: &channels,
			},
			&cli.Float64Flag{
				Name:        "guidance-scale",
				Aliases:     []string{"guidance", "g"},
				Usage:       "classifier-free guidance scale (<= 1 disables guidance)",
				Value:       7.5,
				Destination: &guidance,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Aliases:     []string{"b"},
				Usage:       "number of independent images to generate",
				Value:       1,
				Destination: &batch,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory (default: $PIGMENT_OUT_DIR or .)",
				Destination: &outputDir,
			},
			&cli.StringFlag{
				Name:        "prefix",
				Usage:       "output filename prefix",
				Value:       "pigment",
				Destination: &prefix,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyGenerateConfig(cmd, LoadConfig(),
				&steps, &seed, &width, &height, &guidance, &outputDir)
			log := setupLogger()

			if prompt == "" {
				prompt = cmd.Args().First()
			}
			if prompt == "" && !dryRun {
				return fmt.Errorf("a prompt is required (use --prompt or the positional argument)")
			}
			if seed < 0 {
				seed = time.Now().UnixNano() & 0x7fffffff
				log.Info("using random seed", "seed", seed)
			}

			resolved, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}
			modelDir = resolved

			p, err := buildPipeline(ctx, log)
			if err != nil {
				return err
			}

			req := &pipeline.Request{
				Prompt:         prompt,
				NegativePrompt: negativePrompt,
				Steps:          int(steps),
				Seed:           seed,
				Width:          int(width),
				Height:         int(height),
				Channels:       sampleChannels(int(channels)),
				GuidanceScale:  float32(guidance),
			}
			if !noProgress {
				req.Progress = renderProgress(os.Stderr)
			}

			results, err := p.RunBatch(ctx, req, int(batch))
			if err != nil {
				return err
			}

			outDir, defaulted, err := resolveOutputDir(outputDir)
			if err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			if defaulted {
				log.Debug("using default output directory", "dir", outDir)
			}
			for _, res := range results {
				path := outputPath(outDir, prefix, res.Seed)
				if err := imaging.WritePNG(res.Image, path); err != nil {
					return err
				}
				log.Info("image written", "path", path, "seed", res.Seed)
			}
			return nil
		},
	}
}

// sampleChannels picks the sample depth: explicit flag, else pixel space
// for dry runs and latent space when a real predictor decodes for us.
func sampleChannels(flag int) int {
	if flag > 0 {
		return flag
	}
	if dryRun {
		return 3
	}
	return 4
}

func outputPath(dir, prefix string, seed int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.png", prefix, seed))
}

// buildPipeline assembles the scheduler factory, predictor, and decoder
// from the shared flags.
func buildPipeline(ctx context.Context, log logger.Logger) (*pipeline.Pipeline, error) {
	factory, kind, err := newSchedulerFactory()
	if err != nil {
		return nil, err
	}
	log.Debug("scheduler selected", "kind", kind)

	p := &pipeline.Pipeline{
		NewScheduler: factory,
		Log:          log,
	}
	if dryRun {
		p.Predictor = predictor.Stub{}
		p.Decoder = imaging.PixelDecoder{}
		return p, nil
	}

	client := predictor.NewClient(predictorURL, 5*time.Minute)
	log.Info("waiting for prediction server", "url", predictorURL)
	if err := client.WaitReady(ctx, 10); err != nil {
		return nil, fmt.Errorf("prediction server not ready: %w", err)
	}
	p.Predictor = client
	p.Decoder = client
	return p, nil
}

// newSchedulerFactory resolves the scheduler configuration once and
// returns a per-seed constructor, so every run and batch replica gets its
// own instance.
func newSchedulerFactory() (func(seed int64) (scheduler.Scheduler, error), string, error) {
	cfg := scheduler.Default()
	kind := schedulerKind
	if modelDir != "" {
		loaded, err := scheduler.LoadConfig(filepath.Join(modelDir, "scheduler", "scheduler_config.json"))
		if err != nil {
			return nil, "", fmt.Errorf("model scheduler config: %w", err)
		}
		cfg = loaded
		if loaded.ClassName != "" {
			kind = loaded.ClassName
		}
	}
	// Fail on an unknown kind now rather than inside the first run.
	if _, err := scheduler.New(kind, cfg, 0); err != nil {
		return nil, "", err
	}
	return func(seed int64) (scheduler.Scheduler, error) {
		return scheduler.New(kind, cfg, seed)
	}, kind, nil
}
