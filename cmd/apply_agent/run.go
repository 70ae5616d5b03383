package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-agent/internal/logging"
	"github.com/jonathan/apply-agent/internal/observability"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Apply to the unprocessed postings of a candidate list",
	Long: `Processes every posting of the list that has no ledger entry yet, one at a time, up to
max_per_run. Each posting gets exactly one ledger entry. Postings that need a person
(account walls, CAPTCHAs, missing confirmation) are left open in their tab.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runApplyCmd,
}

var runFlags struct {
	only       string
	max        int
	autoSubmit bool
	noFilter   bool
	dryRun     bool
}

func init() {
	addListFlag(runCommand)
	addLedgerFlags(runCommand)
	addBrowserFlags(runCommand)
	runCommand.Flags().StringVar(&runFlags.only, "only", "", "Process only this URL, with debug logging")
	runCommand.Flags().IntVar(&runFlags.max, "max", 0, "Maximum postings to attempt in this run")
	runCommand.Flags().BoolVar(&runFlags.autoSubmit, "auto-submit", false, "Click the submit control after filling the form")
	runCommand.Flags().BoolVar(&runFlags.noFilter, "no-filter", false, "Attempt every listed posting, not only relevant ones")
	runCommand.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "Print the postings a run would attempt and exit")

	rootCmd.AddCommand(runCommand)
}

func runApplyCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max") {
		cfg.MaxPerRun = runFlags.max
	}
	if cmd.Flags().Changed("auto-submit") {
		cfg.AutoSubmit = runFlags.autoSubmit
	}
	if runFlags.only != "" {
		cfg.Verbose = true
	}

	log := logging.New(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	job := &applyJob{cfg: cfg, log: log, out: cmd.OutOrStdout(), only: runFlags.only, noFilter: runFlags.noFilter}
	if runFlags.dryRun {
		return job.preview(ctx)
	}

	sum, err := job.run(ctx)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintSummary(sum)
	return nil
}
