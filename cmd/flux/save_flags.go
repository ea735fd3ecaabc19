package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flux/internal/catalog"
	"flux/internal/config"
	"flux/internal/pipeline"
)

type saveFlags struct {
	start    float64
	end      float64
	mode     string
	duration float64
}

func (f *saveFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.start, "start", 0, "Trim start in seconds")
	cmd.Flags().Float64Var(&f.end, "end", 0, "Trim end in seconds")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Trim strategy override: precise, heuristic, or none")
}

func (f *saveFlags) request() (pipeline.SaveRequest, error) {
	mode := strings.ToLower(strings.TrimSpace(f.mode))
	switch mode {
	case "", config.TrimModePrecise, config.TrimModeHeuristic, config.TrimModeNone:
	default:
		return pipeline.SaveRequest{}, fmt.Errorf("--mode: unsupported value %q", f.mode)
	}
	return pipeline.SaveRequest{Start: f.start, End: f.end, Mode: mode}, nil
}

func printSaved(cmd *cobra.Command, rec catalog.Recording) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Saved %s (%s, %s)\n", rec.Title, formatClock(rec.Duration), formatBytes(rec.Size))
	fmt.Fprintf(out, "Views: %s\n", formatCount(rec.Views))
	fmt.Fprintf(out, "Watch: %s\n", pipeline.WatchRoute(rec.ID))
}
