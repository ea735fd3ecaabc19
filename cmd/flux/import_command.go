package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"flux/internal/config"
	"flux/internal/media"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var flags saveFlags

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Trim and save an existing video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("%s is empty", path)
			}
			payload := media.Payload{Data: data, MIMEType: media.MIMEForExtension(filepath.Ext(path))}

			s, err := ctx.open(sessionNeeds{vault: true, lock: true})
			if err != nil {
				return err
			}
			defer s.Close()

			orch := newOrchestrator(s, newConsoleObserver(cmd.OutOrStdout()))
			defer orch.Close()

			if err := orch.Import(cmd.Context(), payload, flags.duration); err != nil {
				return err
			}
			rec, err := orch.Save(cmd.Context(), req)
			if err != nil {
				return err
			}
			printSaved(cmd, rec)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&flags.duration, "duration", 0, "Media duration in seconds (probed with ffprobe when omitted)")
	return cmd
}
