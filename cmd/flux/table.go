package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. A zero maxWidth leaves it unbounded.
type column struct {
	title    string
	numeric  bool
	maxWidth int
}

func renderTable(columns []column, rows [][]string, footer []string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(columns, func(i int) string { return columns[i].title }))
	for _, row := range rows {
		tw.AppendRow(toRow(columns, cell(row)))
	}
	if len(footer) > 0 {
		tw.AppendFooter(toRow(columns, cell(footer)))
		tw.Style().Format.Footer = text.FormatDefault
	}

	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft, WidthMax: col.maxWidth}
		if col.numeric {
			configs[i].Align = text.AlignRight
			configs[i].AlignFooter = text.AlignRight
		}
		if col.maxWidth > 0 {
			configs[i].WidthMaxEnforcer = text.Trim
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func toRow(columns []column, value func(int) string) table.Row {
	row := make(table.Row, len(columns))
	for i := range columns {
		row[i] = value(i)
	}
	return row
}

func cell(values []string) func(int) string {
	return func(i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}
}
