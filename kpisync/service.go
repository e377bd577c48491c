// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// Provenance tags stamped on every raw row.
	SourceTestRail = "testrail"
	SourceJira     = "jira"
)

// ServiceConfig holds configuration for the sync service. Clients and
// stores are injected already constructed; secret resolution happens once
// at process start, outside this package.
type ServiceConfig struct {
	// ProjectIDs restricts scoped entity syncs to these project ids.
	// Empty means every project.
	ProjectIDs []int64

	// JiraJQL selects issues for the jira_issues entity.
	JiraJQL string

	// JiraBatchSize bounds how many flattened issues are buffered before a
	// warehouse write (default 500).
	JiraBatchSize int
}

// Service dispatches an entity kind to its sync strategy. Each strategy
// composes the source clients, the watermark store and the warehouse sink,
// handling fan-out across scopes and nested-entity extraction. A service
// owns the lifecycle of one sync invocation; the store and sink keep no
// cross-call memory beyond the persisted sync state.
type Service struct {
	testrail *TestRailClient
	jira     *JiraClient
	store    WatermarkStore
	sink     Warehouse
	config   *ServiceConfig
	logger   *slog.Logger

	strategies map[EntityKind]strategyFunc
	order      []EntityKind
}

type strategyFunc func(ctx context.Context) (*SyncSummary, error)

// NewService builds the strategy table. The jira client may be nil, in
// which case the jira_issues entity is unregistered and the composite sync
// skips it.
func NewService(testrail *TestRailClient, jira *JiraClient, store WatermarkStore, sink Warehouse, config *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if testrail == nil {
		return nil, errors.New("testrail client is required")
	}
	if store == nil {
		return nil, errors.New("watermark store is required")
	}
	if sink == nil {
		return nil, errors.New("warehouse sink is required")
	}
	if config == nil {
		config = &ServiceConfig{}
	}
	if config.JiraBatchSize <= 0 {
		cfg := *config
		cfg.JiraBatchSize = 500
		config = &cfg
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		testrail: testrail,
		jira:     jira,
		store:    store,
		sink:     sink,
		config:   config,
		logger:   logger,
	}

	s.strategies = map[EntityKind]strategyFunc{
		KindProjects:   s.syncProjects,
		KindSuites:     s.syncSuites,
		KindCases:      s.syncCases,
		KindRuns:       s.syncRuns,
		KindPlans:      s.syncPlans,
		KindTests:      s.syncTests,
		KindResults:    s.syncResults,
		KindMilestones: s.syncMilestones,
		KindStatuses:   s.syncStatuses,
		KindUsers:      s.syncUsers,
	}
	if jira != nil {
		s.strategies[KindJiraIssues] = s.syncJiraIssues
	}

	// Composite order: metadata, then structure, then data, then the
	// external tracker. Run-scoped entities come after runs and plans so
	// the warehouse read-back sees this batch's run rows.
	s.order = []EntityKind{
		KindStatuses, KindUsers, KindProjects,
		KindSuites, KindMilestones, KindCases,
		KindPlans, KindRuns,
		KindTests, KindResults,
		KindJiraIssues,
	}

	return s, nil
}

// Sync runs one entity's strategy to completion and returns its summary.
// KindAll is handled by SyncAll; calling Sync with it is an error.
func (s *Service) Sync(ctx context.Context, kind EntityKind) (*SyncSummary, error) {
	strategy, ok := s.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for entity %q", kind)
	}
	s.logger.Info("Starting sync", "entity", kind)
	summary, err := strategy(ctx)
	if err != nil {
		s.logger.Error("Sync failed", "entity", kind, "error", err)
		return nil, err
	}
	s.logger.Info("Sync finished",
		"entity", kind, "count", summary.Count, "skipped_scopes", summary.SkippedScopes)
	return summary, nil
}

// SyncAll runs every registered entity in dependency order. One entity's
// failure is recorded in its summary and does not abort the rest, the same
// isolation the per-scope loops apply.
func (s *Service) SyncAll(ctx context.Context) *BatchSummary {
	batch := &BatchSummary{Status: summaryStatusSuccess}
	for _, kind := range s.order {
		if _, ok := s.strategies[kind]; !ok {
			s.logger.Debug("Skipping unregistered entity", "entity", kind)
			continue
		}
		summary, err := s.Sync(ctx, kind)
		if err != nil {
			summary = &SyncSummary{
				Entity: string(kind),
				Status: summaryStatusError,
				Error:  err.Error(),
			}
			batch.Status = summaryStatusError
		}
		batch.Count += summary.Count
		batch.Entities = append(batch.Entities, summary)
	}
	return batch
}

// scopedProjects returns the projects to iterate, honoring the configured
// allow-list.
func (s *Service) scopedProjects(ctx context.Context) ([]Record, error) {
	projects, err := s.testrail.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if len(s.config.ProjectIDs) == 0 {
		return projects, nil
	}
	allowed := make(map[int64]bool, len(s.config.ProjectIDs))
	for _, id := range s.config.ProjectIDs {
		allowed[id] = true
	}
	var scoped []Record
	for _, p := range projects {
		if id, ok := p.Int64("id"); ok && allowed[id] {
			scoped = append(scoped, p)
		}
	}
	return scoped, nil
}
