// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c4jnpky8hx-a11y/kpis/kpisync"
)

// WarehouseHarness spins up a PostgreSQL container with the raw schema
// applied and exposes the store and sink under test.
type WarehouseHarness struct {
	t         *testing.T
	ctx       context.Context
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *kpisync.PGWatermarkStore
	sink      *kpisync.PGSink
	logger    *slog.Logger
}

func NewWarehouseHarness(t *testing.T) *WarehouseHarness {
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("kpis_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, kpisync.InitializeSchema(ctx, pool))

	h := &WarehouseHarness{
		t:         t,
		ctx:       ctx,
		container: container,
		pool:      pool,
		store:     kpisync.NewPGWatermarkStore(pool),
		sink:      kpisync.NewPGSink(pool, logger),
		logger:    logger,
	}
	t.Cleanup(h.Cleanup)
	return h
}

func (h *WarehouseHarness) Cleanup() {
	h.pool.Close()
	if err := h.container.Terminate(h.ctx); err != nil {
		h.t.Logf("terminate container: %v", err)
	}
}

// scalar runs a single-value query.
func scalar[T any](t *testing.T, h *WarehouseHarness, q string, args ...any) T {
	t.Helper()
	var v T
	require.NoError(t, h.pool.QueryRow(h.ctx, q, args...).Scan(&v))
	return v
}
