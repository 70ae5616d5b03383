package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-agent/internal/ledger"
	"github.com/jonathan/apply-agent/internal/observability"
)

var ledgerCommand = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and correct the application ledger",
}

var ledgerListCommand = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

var ledgerGetCommand = &cobra.Command{
	Use:   "get <url>",
	Short: "Show the entry for one URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerGet,
}

var ledgerSetCommand = &cobra.Command{
	Use:   "set <url> <status>",
	Short: "Record a status for one URL, replacing any previous entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runLedgerSet,
}

var ledgerStatsCommand = &cobra.Command{
	Use:   "stats",
	Short: "Count ledger entries per status",
	Args:  cobra.NoArgs,
	RunE:  runLedgerStats,
}

var ledgerFlags struct {
	status  string
	pending bool
	detail  string
}

func init() {
	addLedgerFlags(ledgerCommand)
	ledgerListCommand.Flags().StringVar(&ledgerFlags.status, "status", "", "Only list entries with this status")
	ledgerListCommand.Flags().BoolVar(&ledgerFlags.pending, "pending", false, "Only list entries still waiting on a person (opened)")
	ledgerSetCommand.Flags().StringVar(&ledgerFlags.detail, "detail", "", "Detail text stored with the entry")

	ledgerCommand.AddCommand(ledgerListCommand, ledgerGetCommand, ledgerSetCommand, ledgerStatsCommand)
	rootCmd.AddCommand(ledgerCommand)
}

// withLedger opens the configured ledger for the duration of fn.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	l, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	return fn(ctx, l)
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	var filter ledger.Status
	if ledgerFlags.status != "" {
		s, err := ledger.ParseStatus(ledgerFlags.status)
		if err != nil {
			return err
		}
		filter = s
	}
	return withLedger(cmd, func(_ context.Context, l *ledger.Ledger) error {
		entries := l.Entries()
		urls := make([]string, 0, len(entries))
		for url, e := range entries {
			if filter != "" && e.Status != filter {
				continue
			}
			if ledgerFlags.pending && e.Status.Terminal() {
				continue
			}
			urls = append(urls, url)
		}
		sort.Slice(urls, func(i, j int) bool {
			a, b := entries[urls[i]], entries[urls[j]]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return urls[i] < urls[j]
		})

		p := observability.NewPrinter(cmd.OutOrStdout())
		for _, url := range urls {
			p.PrintEntry(url, entries[url])
		}
		return nil
	})
}

func runLedgerGet(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(_ context.Context, l *ledger.Ledger) error {
		e, ok := l.Get(args[0])
		if !ok {
			return fmt.Errorf("no ledger entry for %s", args[0])
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintEntry(args[0], e)
		return nil
	})
}

func runLedgerSet(cmd *cobra.Command, args []string) error {
	status, err := ledger.ParseStatus(args[1])
	if err != nil {
		return err
	}
	return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
		e, err := l.Set(ctx, args[0], status, ledgerFlags.detail)
		if err != nil {
			return err
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintEntry(args[0], e)
		return nil
	})
}

func runLedgerStats(cmd *cobra.Command, _ []string) error {
	return withLedger(cmd, func(_ context.Context, l *ledger.Ledger) error {
		observability.NewPrinter(cmd.OutOrStdout()).PrintLedgerStats(l.Stats())
		return nil
	})
}
