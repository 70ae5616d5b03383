package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/config"
	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/ledger"
)

func newTestJob(t *testing.T, list string) (*applyJob, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	listPath := filepath.Join(dir, "jobs.md")
	require.NoError(t, os.WriteFile(listPath, []byte(list), 0o644))

	cfg := config.Defaults()
	cfg.ListFile = listPath
	cfg.Profile = filepath.Join(dir, "profile.json")
	cfg.LedgerDSN = filepath.Join(dir, "applied.json")
	cfg.DiagnosticsDir = filepath.Join(dir, "diagnostics")
	cfg.LLMProvider = "none"
	cfg.Pacing = 0
	cfg.PacingJitter = 0

	var out bytes.Buffer
	return &applyJob{cfg: &cfg, log: zap.NewNop(), out: &out, noFilter: true}, &out
}

func seedLedger(t *testing.T, job *applyJob, url string, status ledger.Status) {
	t.Helper()
	l := ledger.New(ledger.NewFileStore(job.cfg.LedgerDSN))
	_, err := l.LoadAll(context.Background())
	require.NoError(t, err)
	_, err = l.Set(context.Background(), url, status, "")
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

const testList = `# Jobs

- https://boards.greenhouse.io/acme/jobs/101 | Acme | Backend Engineer | Remote
- https://jobs.lever.co/globex/202 | Globex | Platform Engineer | NYC
not a list line
- ftp://example.com/bad | Bad | Entry | Nowhere
`

func TestApplyJob_PreviewListsUnprocessed(t *testing.T) {
	job, out := newTestJob(t, testList)
	seedLedger(t, job, globexURL, ledger.StatusSubmitted)

	require.NoError(t, job.preview(context.Background()))
	assert.Contains(t, out.String(), "ELIGIBLE CANDIDATES (1)")
	assert.Contains(t, out.String(), "Acme")
	assert.NotContains(t, out.String(), "Globex")
}

func TestApplyJob_NothingEligibleSkipsBrowser(t *testing.T) {
	job, _ := newTestJob(t, testList)
	seedLedger(t, job, acmeURL, ledger.StatusSubmitted)
	seedLedger(t, job, globexURL, ledger.StatusCaptcha)

	connected := false
	job.connect = func(context.Context) (flow.Browser, error) {
		connected = true
		return nil, errors.New("unexpected")
	}

	sum, err := job.run(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)
	assert.Equal(t, 2, sum.Listed)
	assert.Equal(t, 0, sum.Eligible)
	assert.Equal(t, 0, sum.Processed)
}

func TestApplyJob_ConnectFailure(t *testing.T) {
	job, _ := newTestJob(t, testList)
	job.connect = func(context.Context) (flow.Browser, error) {
		return nil, errors.New("no browser at 127.0.0.1:9222")
	}

	_, err := job.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run failed")
	assert.Contains(t, err.Error(), "no browser")
}

func TestApplyJob_MissingList(t *testing.T) {
	job, _ := newTestJob(t, testList)
	job.cfg.ListFile = filepath.Join(t.TempDir(), "missing.md")

	_, err := job.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open candidate list")
}

func TestApplyJob_DrafterWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	job, _ := newTestJob(t, testList)
	job.cfg.LLMProvider = "openai"

	d, closeFn := job.drafter(context.Background())
	assert.NotNil(t, d)
	assert.Nil(t, closeFn)
}

func TestRunCommand_DryRun(t *testing.T) {
	job, _ := newTestJob(t, testList)

	out, err := executeCommand(t, "run", "--dry-run", "--no-filter",
		"--list", job.cfg.ListFile, "--ledger-dsn", job.cfg.LedgerDSN)
	require.NoError(t, err)
	assert.Contains(t, out, "ELIGIBLE CANDIDATES (2)")
}
