package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"flux/internal/preflight"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var flags saveFlags
	var limit time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen, then trim and save the capture",
		Long: "Record the configured display until Enter is pressed, the --for limit\n" +
			"elapses, or the process is interrupted. The capture is then trimmed to\n" +
			"--start/--end when given and saved into the vault.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			s, err := ctx.open(sessionNeeds{vault: true, lock: true})
			if err != nil {
				return err
			}
			defer s.Close()

			if failed := preflight.Failed(preflight.RunAll(cmd.Context(), s.cfg, nil)); len(failed) > 0 {
				return fmt.Errorf("preflight: %s: %s (run flux doctor)", failed[0].Name, failed[0].Detail)
			}

			observer := newConsoleObserver(cmd.OutOrStdout())
			orch := newOrchestrator(s, observer)
			defer orch.Close()

			if err := orch.StartCapture(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recording… press Enter to stop")
			waitForStop(cmd.Context(), cmd.InOrStdin(), limit)
			observer.reset()

			// Interrupts stop the capture; the recording is still saved.
			work := context.WithoutCancel(cmd.Context())
			if err := orch.FinishCapture(work); err != nil {
				return err
			}
			rec, err := orch.Save(work, req)
			if err != nil {
				return err
			}
			printSaved(cmd, rec)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&limit, "for", 0, "Stop automatically after this long (0 waits for Enter)")
	return cmd
}

// waitForStop returns once a line is read from in, limit elapses, or ctx
// ends. A closed stdin does not stop the recording.
func waitForStop(ctx context.Context, in io.Reader, limit time.Duration) {
	line := make(chan struct{}, 1)
	go func() {
		if _, err := bufio.NewReader(in).ReadString('\n'); err == nil {
			line <- struct{}{}
		}
	}()

	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-line:
	case <-timeout:
	case <-ctx.Done():
	}
}
