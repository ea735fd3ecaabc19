package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flux/internal/config"
	"flux/internal/pipeline"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(sessionNeeds{})
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No recordings saved yet")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, recordingRow(rec, now))
			}
			stats, err := s.catalog.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderTable(recordingColumns, rows, []string{
				fmt.Sprintf("%s recordings", formatCount(int64(stats.Count))), "", "", "",
				formatBytes(stats.TotalBytes), formatCount(stats.TotalViews), "",
			}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the catalog as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id|#/watch/id>",
		Short: "Show catalog details for a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := pipeline.ParseRoute(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", errNotFound, args[0])
			}
			s, err := ctx.open(sessionNeeds{})
			if err != nil {
				return err
			}
			defer s.Close()

			rec, found, err := s.catalog.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: %s", errNotFound, id)
			}
			if asJSON {
				return writeJSON(cmd, rec)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", rec.ID)
			fmt.Fprintf(out, "Title:      %s\n", rec.Title)
			fmt.Fprintf(out, "Route:      %s\n", pipeline.WatchRoute(rec.ID))
			fmt.Fprintf(out, "Created:    %s\n", rec.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Length:     %s\n", formatClock(rec.Duration))
			fmt.Fprintf(out, "Size:       %s\n", formatBytes(rec.Size))
			fmt.Fprintf(out, "Type:       %s\n", rec.MIMEType)
			fmt.Fprintf(out, "Views:      %s\n", formatCount(rec.Views))
			fmt.Fprintf(out, "Completion: %s\n", formatPercent(rec.CompletionRate))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the entry as JSON")
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the catalog document to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open(sessionNeeds{})
			if err != nil {
				return err
			}
			defer s.Close()

			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			count, err := s.catalog.Export(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s recordings to %s\n", formatCount(int64(count)), path)
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
