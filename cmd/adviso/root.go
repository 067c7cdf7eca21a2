// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root adviso command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "adviso",
		Short:         "Adviso — cost-optimized advisory assistant",
		Long:          "Adviso is a conversational advisory assistant core with layered prompt caching, knowledge deduplication, and batch maintenance.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "override data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	// Register subcommands
	root.AddCommand(
		newStartCmd(),
		newMaintenanceCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// newLogger builds the process logger. Verbose enables debug output.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
