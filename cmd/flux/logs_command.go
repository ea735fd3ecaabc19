package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"flux/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		raw    bool
		filter logs.Filter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent entries from the Flux log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogFilePath()
			out := cmd.OutOrStdout()
			opts := logs.Options{Lines: lines, Follow: follow, Filter: filter}
			return logs.Tail(cmd.Context(), path, opts, func(e logs.Entry) {
				printLogEntry(out, e, raw)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the JSON lines unchanged")
	cmd.Flags().StringVar(&filter.RecordingID, "recording", "", "Only show entries for this recording ID")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only show entries from this component")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

func printLogEntry(w io.Writer, e logs.Entry, raw bool) {
	if raw || e.Message == "" {
		fmt.Fprintln(w, e.Raw)
		return
	}
	var b strings.Builder
	b.WriteString(e.Time)
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s ", e.Level))
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.RecordingID != "" {
		b.WriteString(" recording_id=")
		b.WriteString(e.RecordingID)
	}
	fmt.Fprintln(w, b.String())
}
