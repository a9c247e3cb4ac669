package main

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/pigmentdev/pigment/internal/api"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rps         float64
		maxSteps    int64
		maxSize     int64
		maxBatch    int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the image generation REST API",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rps",
				Usage:       "per-client request rate limit (0 disables)",
				Value:       2,
				Destination: &rps,
			},
			&cli.Int64Flag{
				Name:        "max-steps",
				Usage:       "reject requests above this step count",
				Value:       1000,
				Destination: &maxSteps,
			},
			&cli.Int64Flag{
				Name:        "max-size",
				Usage:       "reject requests above this width or height",
				Value:       2048,
				Destination: &maxSize,
			},
			&cli.Int64Flag{
				Name:        "max-batch",
				Usage:       "reject requests above this batch size",
				Value:       8,
				Destination: &maxBatch,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr)
			log := setupLogger()

			resolved, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}
			modelDir = resolved

			p, err := buildPipeline(ctx, log)
			if err != nil {
				return err
			}

			modelName := "stub"
			if modelDir != "" {
				modelName = filepath.Base(modelDir)
			}
			limits := api.Limits{
				MaxSteps: int(maxSteps),
				MaxSize:  int(maxSize),
				MaxBatch: int(maxBatch),
			}
			server := api.NewServer(p, modelName, schedulerKind, limits, rps, log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
