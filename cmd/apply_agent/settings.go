package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/apply-agent/internal/browser"
	"github.com/jonathan/apply-agent/internal/config"
	"github.com/jonathan/apply-agent/internal/flow"
	"github.com/jonathan/apply-agent/internal/ledger"
)

// flagValues holds the flags shared by several commands.
var flagValues struct {
	list          string
	ledgerBackend string
	ledgerDSN     string
	debugURL      string
}

func addListFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagValues.list, "list", "l", "", "Candidate list file (lines of '- url | company | title | location')")
}

// addLedgerFlags registers the ledger flags as persistent so subcommands inherit them.
func addLedgerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&flagValues.ledgerBackend, "ledger-backend", "", "Ledger backend: file, sqlite, postgres or redis")
	flags.StringVar(&flagValues.ledgerDSN, "ledger-dsn", "", "Ledger path (file, sqlite) or connection URL (postgres, redis)")
}

func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagValues.debugURL, "debug-url", "", "Chrome remote debugging endpoint (default http://127.0.0.1:9222)")
}

// loadSettings reads the config file, applies the flags that were set explicitly and
// fills the rest from the defaults.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	flags := cmd.Flags()
	if flags.Lookup("list") != nil && flags.Changed("list") {
		cfg.ListFile = flagValues.list
	}
	if flags.Lookup("ledger-backend") != nil && flags.Changed("ledger-backend") {
		cfg.LedgerBackend = flagValues.ledgerBackend
	}
	if flags.Lookup("ledger-dsn") != nil && flags.Changed("ledger-dsn") {
		cfg.LedgerDSN = flagValues.ledgerDSN
	}
	if flags.Lookup("debug-url") != nil && flags.Changed("debug-url") {
		cfg.DebugURL = flagValues.debugURL
	}
	if verbose {
		cfg.Verbose = true
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// openLedger opens the configured store and loads every entry.
func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	store, err := ledger.Open(ctx, ledger.Backend(cfg.LedgerBackend), cfg.LedgerLocation())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	l := ledger.New(store)
	if _, err := l.LoadAll(ctx); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return l, nil
}

func browserOptions(cfg *config.Config) browser.Options {
	opts := browser.DefaultOptions()
	opts.DebugURL = cfg.DebugURL
	opts.ChromePath = cfg.ChromePath
	opts.UserDataDir = cfg.UserDataDir
	return opts
}

// connectBrowser returns the runner's attach step for the configured endpoint.
func connectBrowser(cfg *config.Config, log *zap.Logger) flow.ConnectFunc {
	return func(ctx context.Context) (flow.Browser, error) {
		s, err := browser.Connect(ctx, browserOptions(cfg), log)
		if err != nil {
			return nil, err
		}
		return flow.NewSessionBrowser(s), nil
	}
}
