// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

// SyncSummary reports the outcome of one entity sync invocation.
type SyncSummary struct {
	Entity string `json:"entity"`
	Status string `json:"status"` // "success" or "error"
	Count  int    `json:"count"`

	// RunsExtracted counts the plan-derived run rows written by the plans
	// strategy in addition to Count.
	RunsExtracted int `json:"runs_extracted,omitempty"`

	// SkippedScopes counts scopes whose failure was tolerated; siblings
	// keep syncing and the failure shows up here and in the logs only.
	SkippedScopes int `json:"skipped_scopes,omitempty"`

	Error string `json:"error,omitempty"`
}

const (
	summaryStatusSuccess = "success"
	summaryStatusError   = "error"
)

// BatchSummary aggregates the composite "all" sync. Per-entity failures
// are isolated, mirroring the per-scope policy: every entity runs, and the
// batch status reflects whether any of them failed.
type BatchSummary struct {
	Status   string         `json:"status"`
	Count    int            `json:"count"`
	Entities []*SyncSummary `json:"entities"`
}
