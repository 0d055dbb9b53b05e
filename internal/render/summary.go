// Package render presents migration output on the terminal: the end of run
// summary and previews of translated wiki pages.
package render

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/danielolaszy/trac2gitlab/internal/migrate"
)

// ColorsEnabled returns whether terminal colors should be used.
// It returns false if the NO_COLOR environment variable is set (any value)
// or if TERM is set to "dumb".
func ColorsEnabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

type summaryRow struct {
	name  string
	tally migrate.Tally
}

func summaryRows(r *migrate.Result) []summaryRow {
	rows := []summaryRow{
		{"Users", r.UserTally},
		{"Labels", r.Labels},
		{"Milestones", r.Milestones},
		{"Issues", r.Issues},
		{"Notes", r.Notes},
		{"Attachments", r.Attachments},
		{"Closed issues", r.Closed},
		{"Wiki pages", r.Wiki},
	}

	kept := rows[:0]
	for _, row := range rows {
		if row.tally.Total() > 0 {
			kept = append(kept, row)
		}
	}
	return kept
}

// Summary renders the tallies of a run as a table followed by a one-line
// footer with the run id, duration and failure count.
func Summary(r *migrate.Result) string {
	rows := summaryRows(r)
	if len(rows) == 0 {
		return "Nothing was migrated.\n" + footer(r)
	}

	if !ColorsEnabled() {
		return plainSummary(rows) + footer(r)
	}

	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells = append(cells, []string{
			row.name,
			count(row.tally.Done),
			count(row.tally.Skipped),
			count(row.tally.Failed),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers("Item", "Migrated", "Skipped", "Failed").
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
			if row == table.HeaderRow {
				return s.Bold(true).Foreground(lipgloss.Color("15"))
			}
			if col > 0 {
				s = s.Align(lipgloss.Right)
			}
			if col == 3 && row >= 0 && row < len(rows) && rows[row].tally.Failed > 0 {
				return s.Foreground(lipgloss.Color("9")).Bold(true)
			}
			return s
		})

	return t.Render() + "\n" + footer(r)
}

func plainSummary(rows []summaryRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %8s %8s %8s\n", "Item", "Migrated", "Skipped", "Failed")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 41))
	for _, row := range rows {
		fmt.Fprintf(&b, "%-14s %8s %8s %8s\n", row.name, count(row.tally.Done), count(row.tally.Skipped), count(row.tally.Failed))
	}
	return b.String()
}

func footer(r *migrate.Result) string {
	parts := []string{}
	if r.RunID != "" {
		parts = append(parts, "run "+r.RunID)
	}
	if !r.Started.IsZero() {
		parts = append(parts, "took "+Duration(r.Duration))
	}
	failures := r.Failures()
	parts = append(parts, count(failures)+" "+plural(failures, "failure", "failures"))
	return strings.Join(parts, ", ") + "\n"
}

// Duration formats d rounded to a unit that suits its size.
func Duration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
