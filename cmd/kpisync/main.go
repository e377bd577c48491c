// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

// Command kpisync replicates test-management and issue-tracker records
// into the raw warehouse, either as a long-running HTTP trigger daemon
// (serve) or as a one-shot local run (sync).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "kpisync",
		Short:         "Incremental raw-warehouse sync for quality KPIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(logger))
	root.AddCommand(newSyncCmd(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if os.Getenv("KPIS_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
