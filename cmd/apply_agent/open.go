package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/logging"
	"github.com/jonathan/apply-agent/internal/types"
)

const maxErrorDetail = 300

var openCommand = &cobra.Command{
	Use:   "open",
	Short: "Open postings one at a time for a person to apply by hand",
	Long: `Opens the next postings that have no ledger entry yet, one tab at a time. Each posting is
recorded as opened, and as manual-submitted once its tab is closed.`,
	RunE: runOpenCmd,
}

var openCount int

func init() {
	addListFlag(openCommand)
	addLedgerFlags(openCommand)
	addBrowserFlags(openCommand)
	openCommand.Flags().IntVarP(&openCount, "count", "n", 10, "Number of postings to open")

	rootCmd.AddCommand(openCommand)
}

// manualTab is the part of a browser tab the opener needs.
type manualTab interface {
	Navigate(ctx context.Context, url string) error
	Closed(ctx context.Context) (bool, error)
}

// manualOpener hands postings to a person one tab at a time.
type manualOpener struct {
	ledger *ledger.Ledger
	open   func(ctx context.Context) (manualTab, error)
	poll   time.Duration
	settle time.Duration
	log    *zap.Logger
	out    io.Writer
}

// Run opens up to count postings that have no ledger entry and returns how many it opened.
func (o *manualOpener) Run(ctx context.Context, cands []types.Candidate, count int) (int, error) {
	opened := 0
	for _, c := range cands {
		if opened >= count {
			break
		}
		if o.ledger.Has(c.URL) {
			continue
		}
		opened++
		fmt.Fprintf(o.out, "[%d/%d] %s\n", opened, count, c.URL)

		if err := o.handle(ctx, c.URL); err != nil {
			if ctx.Err() != nil {
				return opened, ctx.Err()
			}
			o.log.Warn("manual open failed", zap.String("url", c.URL), zap.Error(err))
			if _, serr := o.ledger.Set(ctx, c.URL, ledger.StatusError, truncate(err.Error(), maxErrorDetail)); serr != nil {
				return opened, serr
			}
		}

		select {
		case <-ctx.Done():
			return opened, ctx.Err()
		case <-time.After(o.settle):
		}
	}
	return opened, nil
}

// handle opens one posting and blocks until its tab is closed.
func (o *manualOpener) handle(ctx context.Context, url string) error {
	tab, err := o.open(ctx)
	if err != nil {
		return err
	}
	if err := tab.Navigate(ctx, url); err != nil {
		o.log.Warn("navigation incomplete", zap.String("url", url), zap.Error(err))
	}
	if _, err := o.ledger.Set(ctx, url, ledger.StatusOpened, ""); err != nil {
		return err
	}

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()
	for {
		closed, err := tab.Closed(ctx)
		if err != nil {
			return err
		}
		if closed {
			_, err := o.ledger.Set(ctx, url, ledger.StatusManualSubmitted, "")
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func runOpenCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	list, err := types.LoadList(cfg.ListFile)
	if err != nil {
		return err
	}
	l, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	session, err := browser.Connect(ctx, browserOptions(cfg), log)
	if err != nil {
		return err
	}
	defer session.Close()

	o := &manualOpener{
		ledger: l,
		open: func(ctx context.Context) (manualTab, error) {
			return session.NewTab(ctx, "about:blank")
		},
		poll:   time.Second,
		settle: 500 * time.Millisecond,
		log:    log,
		out:    cmd.OutOrStdout(),
	}
	n, err := o.Run(ctx, list.Candidates, openCount)
	fmt.Fprintf(cmd.OutOrStdout(), "Opened %d posting(s)\n", n)
	return err
}
