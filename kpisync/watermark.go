// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncStatus is the recorded outcome of the last sync for a state row.
type SyncStatus string

const (
	StatusSuccess SyncStatus = "SUCCESS"
	StatusError   SyncStatus = "ERROR"
)

// WatermarkStore tracks the per-(entity, scope) high-water mark: the
// highest source-side update timestamp known to have been fully ingested.
// Scope is an opaque identifier partitioning an entity type (typically a
// project id); the empty string means the entity is unscoped. An unscoped
// row never matches a concrete scope lookup and vice versa.
type WatermarkStore interface {
	// Get returns the stored watermark, or 0 when no row exists.
	Get(ctx context.Context, kind EntityKind, scope string) (int64, error)
	// Update atomically upserts the state row. The stored watermark never
	// decreases, so overlapping invocations for the same key cannot race
	// to a lost update.
	Update(ctx context.Context, kind EntityKind, scope string, watermark int64, status SyncStatus) error
}

// PGWatermarkStore keeps sync state in the warehouse's raw.sync_state
// table.
type PGWatermarkStore struct {
	pool *pgxpool.Pool
}

func NewPGWatermarkStore(pool *pgxpool.Pool) *PGWatermarkStore {
	return &PGWatermarkStore{pool: pool}
}

func (s *PGWatermarkStore) Get(ctx context.Context, kind EntityKind, scope string) (int64, error) {
	const q = `
SELECT last_updated_at_watermark
FROM raw.sync_state
WHERE entity_type = $1 AND scope_id = $2`

	var watermark int64
	err := s.pool.QueryRow(ctx, q, string(kind), scope).Scan(&watermark)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark for %s/%q: %w", kind, scope, err)
	}
	return watermark, nil
}

func (s *PGWatermarkStore) Update(ctx context.Context, kind EntityKind, scope string, watermark int64, status SyncStatus) error {
	// Single-statement upsert: atomic per key under concurrent callers.
	// GREATEST keeps the watermark monotonically non-decreasing even when
	// invocations interleave across processes.
	const q = `
INSERT INTO raw.sync_state (entity_type, scope_id, last_updated_at_watermark, last_sync_ts, status)
VALUES ($1, $2, $3, now(), $4)
ON CONFLICT (entity_type, scope_id) DO UPDATE SET
	last_updated_at_watermark = GREATEST(raw.sync_state.last_updated_at_watermark, EXCLUDED.last_updated_at_watermark),
	last_sync_ts = now(),
	status = EXCLUDED.status`

	if _, err := s.pool.Exec(ctx, q, string(kind), scope, watermark, string(status)); err != nil {
		return fmt.Errorf("update watermark for %s/%q: %w", kind, scope, err)
	}
	return nil
}
