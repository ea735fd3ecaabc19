package main

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"flux/internal/catalog"
)

var printer = message.NewPrinter(language.English)

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func formatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

func formatPercent(p float64) string {
	return printer.Sprintf("%.0f%%", p)
}

// formatClock renders seconds as M:SS or H:MM:SS.
func formatClock(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "0:00"
	}
	total := int64(math.Round(seconds))
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatCreated(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

var recordingColumns = []column{
	{title: "ID"},
	{title: "Title", maxWidth: 40},
	{title: "Created"},
	{title: "Length", numeric: true},
	{title: "Size", numeric: true},
	{title: "Views", numeric: true},
	{title: "Completion", numeric: true},
}

func recordingRow(rec catalog.Recording, now time.Time) []string {
	return []string{
		rec.ID,
		rec.Title,
		formatCreated(rec.CreatedAt, now),
		formatClock(rec.Duration),
		formatBytes(rec.Size),
		formatCount(rec.Views),
		formatPercent(rec.CompletionRate),
	}
}
