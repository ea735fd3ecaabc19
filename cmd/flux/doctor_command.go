package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flux/internal/logging"
	"flux/internal/preflight"
	"flux/internal/scratch"
	"flux/internal/trim"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var clean bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories, and trim support",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if clean {
				s, err := ctx.open(sessionNeeds{lock: true})
				if err != nil {
					return err
				}
				result := scratch.Sweep(cmd.Context(), cfg.Paths.ScratchDir, 0, s.logger)
				s.Close()
				fmt.Fprintf(out, "Removed %s scratch entries (%s)\n", formatCount(int64(len(result.Removed))), formatBytes(result.Freed))
				for _, failure := range result.Errors {
					fmt.Fprintf(out, "  could not remove %s: %v\n", failure.Path, failure.Error)
				}
			}

			loader := trim.NewLoader(cfg, logging.NewNop())
			results := preflight.RunAll(cmd.Context(), cfg, trim.NewCapability(cfg, loader))

			rows := make([][]string, 0, len(results)+1)
			for _, r := range results {
				status := "ok"
				switch {
				case !r.Passed && r.Optional:
					status = "warn"
				case !r.Passed:
					status = "FAIL"
				}
				rows = append(rows, []string{r.Name, status, r.Detail})
			}
			files, size := scratch.Usage(cfg.Paths.ScratchDir)
			rows = append(rows, []string{"Scratch usage", "info", fmt.Sprintf("%s files, %s", formatCount(int64(files)), formatBytes(size))})
			fmt.Fprintln(out, renderTable([]column{{title: "Check"}, {title: "Status"}, {title: "Detail"}}, rows, nil))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d required check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "Remove leftover scratch files before checking")
	return cmd
}
