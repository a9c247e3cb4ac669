package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pigmentdev/pigment/internal/logger"
)

var (
	modelDir      string
	predictorURL  string
	schedulerKind string
	dryRun        bool
	logLevel      string
	logFormat     string
	debug         bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a diffusers-layout model directory",
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "predictor-url",
			Aliases:     []string{"predictor"},
			Usage:       "base URL of the prediction server",
			Value:       "http://127.0.0.1:7860",
			Destination: &predictorURL,
		},
		&cli.StringFlag{
			Name:        "scheduler",
			Usage:       "noise scheduler (ddpm, euler); overridden by the model's scheduler config",
			Value:       "ddpm",
			Destination: &schedulerKind,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "use the built-in stub predictor instead of a prediction server",
			Destination: &dryRun,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func setupLogger() logger.Logger {
	level := logLevel
	if debug {
		level = "debug"
	}
	return logger.Setup(os.Stderr, logFormat, level)
}
