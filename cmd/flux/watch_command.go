package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flux/internal/pipeline"
)

var errNotFound = errors.New("recording not found")

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var progress float64
	var noWait bool

	cmd := &cobra.Command{
		Use:   "watch <id|#/watch/id>",
		Short: "Open a saved recording for playback",
		Long: "Materialize the recording into a playable file and count a view. The\n" +
			"file is removed when the command exits, after Enter is pressed unless\n" +
			"--no-wait or --progress is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(sessionNeeds{vault: true})
			if err != nil {
				return err
			}
			defer s.Close()

			orch := newOrchestrator(s, pipeline.NopObserver{})
			defer orch.Close()

			snap, err := orch.Navigate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if snap.Phase != pipeline.PhaseViewing {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}

			if cmd.Flags().Changed("progress") {
				if err := orch.ReportProgress(cmd.Context(), progress); err != nil {
					return err
				}
				snap = orch.State()
			}

			rec := snap.Recording
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s\n", rec.Title, pipeline.WatchRoute(rec.ID))
			fmt.Fprintf(out, "File:       %s\n", snap.HandlePath)
			fmt.Fprintf(out, "Views:      %s\n", formatCount(rec.Views))
			fmt.Fprintf(out, "Completion: %s\n", formatPercent(rec.CompletionRate))

			if noWait || cmd.Flags().Changed("progress") {
				return nil
			}
			fmt.Fprintln(out, "Press Enter when done watching")
			waitForStop(cmd.Context(), cmd.InOrStdin(), 0)
			return orch.Reset(cmd.Context())
		},
	}

	cmd.Flags().Float64Var(&progress, "progress", 0, "Report playback completion in percent and exit")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Exit immediately after opening")
	return cmd
}
