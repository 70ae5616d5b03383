// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		// Truncate long lines
		if r := []rune(line); len(r) > boxWidth-4 {
			line = string(r[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCandidates lists the candidates a run is about to attempt.
func (p *Printer) PrintCandidates(cands []types.Candidate) {
	var sb strings.Builder
	if len(cands) == 0 {
		sb.WriteString("Nothing to do: all URLs already in ledger.\n")
	}
	for i, c := range cands {
		if i >= maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(cands)-maxItemsToShow))
			break
		}
		sb.WriteString(fmt.Sprintf("%2d. %s | %s\n", i+1, c.CompanyName(), c.RoleName()))
	}
	p.printBox(fmt.Sprintf("ELIGIBLE CANDIDATES (%d)", len(cands)), sb.String())
}

// PrintSummary outputs the per-URL results and status counts of a run.
func (p *Printer) PrintSummary(sum *flow.Summary) {
	if sum == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:       %s\n", sum.RunID))
	sb.WriteString(fmt.Sprintf("Listed:    %d\n", sum.Listed))
	sb.WriteString(fmt.Sprintf("Eligible:  %d\n", sum.Eligible))
	sb.WriteString(fmt.Sprintf("Processed: %d\n", sum.Processed))
	if !sum.FinishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Duration:  %s\n", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second)))
	}

	if len(sum.Results) > 0 {
		sb.WriteString("\nResults:\n")
		for i, r := range sum.Results {
			if i >= maxItemsToShow {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(sum.Results)-maxItemsToShow))
				break
			}
			sb.WriteString(fmt.Sprintf("  %s %-16s %s\n", statusIcon(r.Status), r.Status, r.URL))
		}
	}

	if len(sum.Counts) > 0 {
		sb.WriteString("\nCounts:\n")
		sb.WriteString(formatCounts(sum.Counts))
	}

	p.printBox("RUN SUMMARY", sb.String())
}

// PrintLedgerStats outputs the number of URLs per status.
func (p *Printer) PrintLedgerStats(counts map[ledger.Status]int) {
	if len(counts) == 0 {
		p.printBox("LEDGER", "empty")
		return
	}
	p.printBox("LEDGER", formatCounts(counts))
}

// PrintEntry outputs one ledger entry.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEntry(url string, e ledger.Entry) {
	fmt.Fprintf(p.out, "%s\t%s\t%s", e.Timestamp.UTC().Format(time.RFC3339), e.Status, url)
	if e.Detail != "" {
		fmt.Fprintf(p.out, "\t%s", e.Detail)
	}
	fmt.Fprintln(p.out)
}

// Progress returns a callback that prints one line per candidate event.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) Progress() flow.ProgressCallback {
	return func(ev flow.ProgressEvent) {
		switch ev.Step {
		case "candidate_started":
			fmt.Fprintf(p.out, "[%d/%d] %s\n", ev.Index, ev.Total, ev.URL)
		case "candidate_finished":
			line := fmt.Sprintf("  %s %s", statusIcon(ev.Status), ev.Status)
			if ev.Detail != "" {
				line += " (" + ev.Detail + ")"
			}
			fmt.Fprintln(p.out, line)
		case "reconnect":
			fmt.Fprintf(p.out, "  ↻ browser connection lost, reconnecting\n")
		}
	}
}

func formatCounts(counts map[ledger.Status]int) string {
	var sb strings.Builder
	total := 0
	for _, s := range ledger.AllStatuses {
		if n := counts[s]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %-18s %d\n", s, n))
			total += n
		}
	}
	// Unknown statuses from legacy ledgers still count.
	var other []string
	for s, n := range counts {
		if !s.Valid() && n > 0 {
			other = append(other, fmt.Sprintf("  %-18s %d\n", s, n))
			total += n
		}
	}
	sort.Strings(other)
	for _, line := range other {
		sb.WriteString(line)
	}
	sb.WriteString(fmt.Sprintf("  %-18s %d\n", "total", total))
	return sb.String()
}

func statusIcon(s ledger.Status) string {
	switch {
	case s == ledger.StatusSubmitted || s == ledger.StatusManualSubmitted:
		return "✅"
	case s == ledger.StatusError:
		return "❌"
	case s.NeedsHuman():
		return "👤"
	default:
		return "•"
	}
}
