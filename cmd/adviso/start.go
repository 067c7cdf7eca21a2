// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adviso-dev/adviso/internal/config"
)

// weeklyCheckInterval is how often the scheduler wakes to see whether the
// weekly maintenance run is due. Trigger's conflict guard makes extra wakeups
// harmless.
const weeklyCheckInterval = 24 * time.Hour

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the adviso server",
		Long:  "Load configuration, open all stores, and start the HTTP server.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flag overrides.
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	app, err := WireApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.Admission.RunSweeper(ctx, cfg.Admission.SweepInterval)
	if cfg.Maintenance.Enabled {
		go app.runWeeklyMaintenance(ctx)
	}

	logger.Info("starting adviso", "listen", cfg.Server.Listen, "data_dir", cfg.Storage.DataDir)
	return app.Server.Start(ctx)
}

// runWeeklyMaintenance runs the batch pipeline over the trailing week, once
// per week, until the context is cancelled.
func (a *App) runWeeklyMaintenance(ctx context.Context) {
	ticker := time.NewTicker(weeklyCheckInterval)
	defer ticker.Stop()

	var lastRun time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastRun) < 7*24*time.Hour {
				continue
			}
			if err := a.Pipeline.RunScheduled(ctx); err != nil {
				a.logger.Error("scheduled maintenance failed", "error", err)
				continue
			}
			lastRun = now
		}
	}
}
