// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// One append-only table per entity. The map doubles as the sink's
// guard against dynamic identifiers.
var rawTableNames = map[string]bool{
	"raw_projects":    true,
	"raw_suites":      true,
	"raw_cases":       true,
	"raw_runs":        true,
	"raw_plans":       true,
	"raw_tests":       true,
	"raw_results":     true,
	"raw_milestones":  true,
	"raw_statuses":    true,
	"raw_users":       true,
	"raw_jira_issues": true,
}

// InitializeSchema creates the raw schema, the control table, every raw
// table and the latest-wins views if they don't exist.
func InitializeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		migrations := []string{
			/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS raw`,

			// Control table: at most one row per (entity_type, scope_id).
			// scope_id '' marks unscoped entities; a PK column cannot be
			// NULL and the sentinel keeps unscoped rows distinct from
			// every concrete scope.
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS raw.sync_state (
				entity_type               TEXT        NOT NULL,
				scope_id                  TEXT        NOT NULL DEFAULT '',
				last_updated_at_watermark BIGINT      NOT NULL DEFAULT 0,
				last_sync_ts              TIMESTAMPTZ NOT NULL DEFAULT now(),
				status                    TEXT        NOT NULL,
				PRIMARY KEY (entity_type, scope_id)
			)`,
		}

		for table := range rawTableNames {
			ident := pgx.Identifier{"raw", table}.Sanitize()
			migrations = append(migrations,
				fmt.Sprintf(/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS %s (
					id            BIGINT,
					payload       JSONB       NOT NULL,
					_extracted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					_source       TEXT        NOT NULL
				)`, ident),
				fmt.Sprintf(/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS %s
					ON %s (id, _extracted_at DESC)`,
					pgx.Identifier{table + "_id_extracted_idx"}.Sanitize(), ident),
				// Latest-wins read path: most recent _extracted_at per id.
				fmt.Sprintf(/*language=postgresql*/ `CREATE OR REPLACE VIEW %s AS
					SELECT DISTINCT ON (id) *
					FROM %s
					WHERE id IS NOT NULL
					ORDER BY id, _extracted_at DESC`,
					pgx.Identifier{"raw", table + "_latest"}.Sanitize(), ident),
			)
		}

		for _, migration := range migrations {
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("failed to execute migration: %w", err)
			}
		}
		return nil
	})
}
