package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/types"
)

func TestPrintCandidates(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintCandidates([]types.Candidate{
		{URL: "https://boards.greenhouse.io/acme/jobs/1", Company: "Acme", Title: "Backend Intern"},
		{URL: "https://jobs.lever.co/globex/2"},
	})
	output := buf.String()

	assert.Contains(t, output, "ELIGIBLE CANDIDATES (2)")
	assert.Contains(t, output, "Acme | Backend Intern")
	assert.Contains(t, output, " 2. ")
}

func TestPrintCandidates_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintCandidates(nil)
	assert.Contains(t, buf.String(), "Nothing to do: all URLs already in ledger.")
	assert.NotContains(t, buf.String(), "...")
}

func TestPrintBox_LinesFitWidth(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).printBox("TITLE", strings.Repeat("x", boxWidth*2)+"\nshort\n")
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.Equal(t, boxWidth, utf8.RuneCountInString(line), line)
	}
}

func TestPrintCandidates_Truncates(t *testing.T) {
	var cands []types.Candidate
	for i := 0; i < maxItemsToShow+3; i++ {
		cands = append(cands, types.Candidate{URL: "https://acme.com/jobs", Company: "Acme"})
	}
	var buf bytes.Buffer
	NewPrinter(&buf).PrintCandidates(cands)
	assert.Contains(t, buf.String(), "... and 3 more")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p.PrintSummary(&flow.Summary{
		RunID:     uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Listed:    4,
		Eligible:  2,
		Processed: 2,
		Results: []flow.Result{
			{URL: "https://a", Status: ledger.StatusSubmitted},
			{URL: "https://b", Status: ledger.StatusCaptcha, Detail: "captcha present"},
		},
		Counts:     map[ledger.Status]int{ledger.StatusSubmitted: 1, ledger.StatusCaptcha: 1},
		StartedAt:  start,
		FinishedAt: start.Add(95 * time.Second),
	})
	output := buf.String()

	assert.Contains(t, output, "RUN SUMMARY")
	assert.Contains(t, output, "550e8400")
	assert.Contains(t, output, "Processed: 2")
	assert.Contains(t, output, "1m35s")
	assert.Contains(t, output, "✅ submitted")
	assert.Contains(t, output, "👤 captcha")
	assert.Contains(t, output, "total")
}

func TestPrintSummary_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintSummary(nil)
	assert.Empty(t, buf.String())
}

func TestPrintLedgerStats(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintLedgerStats(map[ledger.Status]int{
		ledger.StatusSubmitted: 3,
		ledger.StatusOpened:    1,
		"applied":              2,
	})
	output := buf.String()

	assert.Less(t, strings.Index(output, "opened"), strings.Index(output, "submitted"))
	assert.Contains(t, output, "applied")
	assert.Regexp(t, `total\s+6`, output)

	buf.Reset()
	NewPrinter(&buf).PrintLedgerStats(nil)
	assert.Contains(t, buf.String(), "empty")
}

func TestPrintEntry(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintEntry("https://a", ledger.Entry{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:    ledger.StatusAttempted,
		Detail:    "no confirmation",
	})
	assert.Equal(t, "2026-01-02T03:04:05Z\tattempted\thttps://a\tno confirmation\n", buf.String())
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	hook := NewPrinter(&buf).Progress()

	hook(flow.ProgressEvent{Step: "run_started"})
	hook(flow.ProgressEvent{Step: "candidate_started", Index: 1, Total: 2, URL: "https://a"})
	hook(flow.ProgressEvent{Step: "candidate_finished", Status: ledger.StatusAttempted, Detail: "no confirmation"})

	assert.Equal(t, "[1/2] https://a\n  👤 attempted (no confirmation)\n", buf.String())
}

func TestPrintBox_LongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", strings.Repeat("é", 100))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
	assert.Contains(t, buf.String(), "...")
}
