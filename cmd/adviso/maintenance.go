// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adviso-dev/adviso/internal/config"
	"github.com/adviso-dev/adviso/internal/maintenance"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run maintenance jobs",
	}

	cmd.AddCommand(newMaintenanceRunCmd())

	return cmd
}

func newMaintenanceRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a maintenance job to completion",
		Long:  "Trigger a maintenance job over the given period and run it synchronously, printing the result summary as JSON.",
		RunE:  runMaintenance,
	}

	cmd.Flags().String("type", maintenance.JobTypeWeekly, "job type")
	cmd.Flags().String("from", "", "period start (RFC 3339), defaults to 7 days ago")
	cmd.Flags().String("to", "", "period end (RFC 3339), defaults to now")

	return cmd
}

func runMaintenance(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	period, err := periodFromFlags(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	app, err := WireApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	jobType, _ := cmd.Flags().GetString("type")
	ctx := cmd.Context()

	job, err := app.Pipeline.Trigger(ctx, jobType, period)
	if err != nil {
		return err
	}
	if err := app.Pipeline.Run(ctx, job.ID); err != nil {
		return err
	}

	final, err := app.Stores.Jobs.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"id":     final.ID,
		"status": final.Status,
		"result": final.Result,
		"errors": final.Errors,
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func periodFromFlags(cmd *cobra.Command) (store.Period, error) {
	now := time.Now().UTC()
	period := store.Period{Start: now.Add(-7 * 24 * time.Hour), End: now}

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		start, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return store.Period{}, adverr.Errorf(adverr.CodeCLIInputInvalid, "parsing --from: %w", err)
		}
		period.Start = start
	}
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		end, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return store.Period{}, adverr.Errorf(adverr.CodeCLIInputInvalid, "parsing --to: %w", err)
		}
		period.End = end
	}

	return period, nil
}
