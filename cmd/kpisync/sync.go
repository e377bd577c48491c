// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c4jnpky8hx-a11y/kpis/internal/config"
	"github.com/c4jnpky8hx-a11y/kpis/kpisync"
)

func newSyncCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <entity>",
		Short: "Run one entity sync locally and print the summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			kind, err := kpisync.ParseEntityKind(args[0])
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			comps, err := setup(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Close()

			jobID := uuid.New().String()
			logger := logger.With("job_id", jobID, "entity", kind)
			logger.Info("Starting local sync")

			var payload any
			if kind == kpisync.KindAll {
				payload = comps.Service.SyncAll(ctx)
			} else {
				summary, err := comps.Service.Sync(ctx, kind)
				if err != nil {
					return err
				}
				payload = summary
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		},
	}
}
