// Package main provides the entry point for the apply_agent command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/apply-agent/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "apply_agent",
	Short: "Job application agent driving an already-open Chrome",
	Long: `apply_agent works through a list of job postings in a Chrome you are signed in to.
It enters each application, passes account walls, drafts the "why this company" answer and
records one ledger entry per posting. Postings that need a person stay open in their tab.`,
	SilenceUsage: true,
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print detailed debug information")
}

func main() {
	// Load .env file if it exists
	config.LoadEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
