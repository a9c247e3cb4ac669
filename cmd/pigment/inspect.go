package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/pigmentdev/pigment/internal/modelspec"
)

func inspectCmd() *cli.Command {
	var showWeights bool

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a diffusers-layout model directory",
		ArgsUsage: "<model-dir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       "also summarize the weight files",
				Destination: &showWeights,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				return fmt.Errorf("a model directory is required")
			}

			spec, err := modelspec.Load(dir)
			if err != nil {
				return err
			}

			fmt.Printf("Pipeline:  %s\n", spec.PipelineClass)
			if spec.Version != "" {
				fmt.Printf("Version:   %s\n", spec.Version)
			}
			if spec.Scheduler != nil {
				fmt.Printf("Scheduler: %s (T=%d, %s betas [%g, %g])\n",
					spec.Scheduler.ClassName,
					spec.Scheduler.NumTrainTimesteps,
					spec.Scheduler.BetaSchedule,
					spec.Scheduler.BetaStart,
					spec.Scheduler.BetaEnd)
			}

			fmt.Println("\nComponents:")
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			for _, name := range spec.ComponentNames() {
				comp := spec.Components[name]
				fmt.Fprintf(w, "  %s\t%s.%s\n", name, comp.Library, comp.Class)
			}
			w.Flush()

			if showWeights {
				fmt.Println("\nWeights:")
				w = tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
				fmt.Fprintln(w, "  FILE\tTENSORS\tPARAMS\tDTYPES")
				for _, wf := range spec.Weights {
					fmt.Fprintf(w, "  %s\t%d\t%s\t%s\n",
						wf.Path, wf.Tensors, humanCount(wf.Params), dtypeSummary(wf.DTypes))
				}
				w.Flush()
			}
			return nil
		},
	}
}

func humanCount(n int64) string {
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.2fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func dtypeSummary(dtypes map[string]int) string {
	names := make([]string, 0, len(dtypes))
	for name := range dtypes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s(%d)", name, dtypes[name])
	}
	return out
}
