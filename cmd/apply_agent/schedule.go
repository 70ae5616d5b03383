package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/logging"
	"github.com/jonathan/apply-agent/internal/observability"
)

var scheduleCommand = &cobra.Command{
	Use:   "schedule",
	Short: "Run the agent on a cron schedule until interrupted",
	Long: `Starts a run every time the cron expression fires (default "0 12 * * *", daily at noon).
A run that is still going when the next one is due causes that trigger to be skipped.`,
	RunE: runScheduleCmd,
}

var scheduleFlags struct {
	cron     string
	timezone string
	runNow   bool
}

func init() {
	addListFlag(scheduleCommand)
	addLedgerFlags(scheduleCommand)
	addBrowserFlags(scheduleCommand)
	scheduleCommand.Flags().StringVar(&scheduleFlags.cron, "cron", "", "Cron expression (minute hour day month weekday)")
	scheduleCommand.Flags().StringVar(&scheduleFlags.timezone, "tz", "", "IANA time zone for the cron expression (default local)")
	scheduleCommand.Flags().BoolVar(&scheduleFlags.runNow, "now", false, "Also start a run immediately")

	rootCmd.AddCommand(scheduleCommand)
}

// newScheduler registers job under spec, evaluated in tz (local time when empty).
func newScheduler(spec, tz string, job func()) (*cron.Cron, error) {
	loc := time.Local
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return c, nil
}

func runScheduleCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if scheduleFlags.cron != "" {
		cfg.Schedule = scheduleFlags.cron
	}
	if scheduleFlags.timezone != "" {
		cfg.Timezone = scheduleFlags.timezone
	}

	log := logging.New(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	out := cmd.OutOrStdout()
	job := &applyJob{cfg: cfg, log: log, out: out}
	trigger := func() {
		log.Info("scheduled run starting")
		sum, err := job.run(ctx)
		if err != nil {
			log.Error("scheduled run failed", zap.Error(err))
			return
		}
		observability.NewPrinter(out).PrintSummary(sum)
	}

	c, err := newScheduler(cfg.Schedule, cfg.Timezone, trigger)
	if err != nil {
		return err
	}
	c.Start()
	log.Info("scheduler started", zap.String("cron", cfg.Schedule), zap.String("timezone", cfg.Timezone))
	if scheduleFlags.runNow {
		// The wrapped job shares the skip-if-running guard with the cron triggers.
		go c.Entries()[0].WrappedJob.Run()
	}

	<-ctx.Done()
	log.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}
