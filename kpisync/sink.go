// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Warehouse is the analytical store the sync engine writes to. Inserts are
// append-only: corrections are new rows, reconciled downstream by the
// latest-wins views keyed on id and _extracted_at. Upsert-as-append is the
// chosen consistency model, not a workaround.
type Warehouse interface {
	// Insert appends the rows to the raw table, enriching each with
	// extraction metadata. A no-op on empty input. Any rejected row fails
	// the whole batch with the rejection detail.
	Insert(ctx context.Context, table, source string, rows []Record) error
	// RunIDs reads back the run ids previously ingested for a project.
	// Run-scoped entity syncs depend on this warehouse read, not just the
	// upstream API.
	RunIDs(ctx context.Context, projectID int64) ([]int64, error)
}

// PGSink writes raw rows to PostgreSQL. Each raw table carries the source
// record as a JSONB payload plus the id fan-out key and extraction
// metadata columns.
type PGSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPGSink(pool *pgxpool.Pool, logger *slog.Logger) *PGSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGSink{pool: pool, logger: logger}
}

func (s *PGSink) Insert(ctx context.Context, table, source string, rows []Record) error {
	if len(rows) == 0 {
		return nil
	}
	if !rawTableNames[table] {
		return fmt.Errorf("insert into unknown raw table %q", table)
	}

	extractedAt := time.Now().UTC()
	ident := pgx.Identifier{"raw", table}.Sanitize()
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (id, payload, _extracted_at, _source) VALUES ($1, $2, $3, $4)`, ident)

	attempt := func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for i, row := range rows {
				payload, err := json.Marshal(row)
				if err != nil {
					return fmt.Errorf("encode row %d for %s: %w", i, table, err)
				}
				var id *int64
				if v, ok := row.Int64("id"); ok {
					id = &v
				}
				batch.Queue(insertSQL, id, payload, extractedAt, source)
			}
			results := tx.SendBatch(ctx, batch)
			defer results.Close()
			for i := range rows {
				if _, err := results.Exec(); err != nil {
					return fmt.Errorf("warehouse rejected row %d of %d for %s: %w", i, len(rows), table, err)
				}
			}
			return nil
		})
	}

	err := attempt()
	if isRetryablePGTxError(err) {
		s.logger.Warn("Retrying warehouse batch after transient tx error", "table", table, "error", err)
		err = attempt()
	}
	if err != nil {
		return err
	}

	s.logger.Info("Inserted rows", "table", table, "count", len(rows), "source", source)
	return nil
}

func (s *PGSink) RunIDs(ctx context.Context, projectID int64) ([]int64, error) {
	const q = `
SELECT DISTINCT id
FROM raw.raw_runs
WHERE id IS NOT NULL
  AND (payload->>'project_id')::BIGINT = $1
ORDER BY id`

	pgRows, err := s.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("read run ids for project %d: %w", projectID, err)
	}
	defer pgRows.Close()

	var ids []int64
	for pgRows.Next() {
		var id int64
		if err := pgRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := pgRows.Err(); err != nil {
		return nil, fmt.Errorf("read run ids for project %d: %w", projectID, err)
	}
	return ids, nil
}
