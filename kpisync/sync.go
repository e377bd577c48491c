// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// forEachProject iterates the scoped projects, tolerating per-scope
// failures: a failed scope is logged and counted, and its siblings keep
// syncing. The scope callback returns how many rows it wrote.
func (s *Service) forEachProject(ctx context.Context, kind EntityKind, scope func(ctx context.Context, projectID int64, project Record) (int, error)) (*SyncSummary, error) {
	projects, err := s.scopedProjects(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{Entity: string(kind), Status: summaryStatusSuccess}
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		projectID, ok := project.Int64("id")
		if !ok {
			s.logger.Warn("Skipping project without id", "entity", kind)
			summary.SkippedScopes++
			continue
		}
		n, err := scope(ctx, projectID, project)
		if err != nil {
			// One bad project must not block the rest.
			s.logger.Error("Scope sync failed",
				"entity", kind, "project_id", projectID, "error", err)
			summary.SkippedScopes++
			continue
		}
		summary.Count += n
	}
	return summary, nil
}

func (s *Service) syncProjects(ctx context.Context) (*SyncSummary, error) {
	projects, err := s.scopedProjects(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sink.Insert(ctx, "raw_projects", SourceTestRail, projects); err != nil {
		return nil, err
	}
	return &SyncSummary{Entity: string(KindProjects), Status: summaryStatusSuccess, Count: len(projects)}, nil
}

func (s *Service) syncStatuses(ctx context.Context) (*SyncSummary, error) {
	statuses, err := s.testrail.Statuses(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sink.Insert(ctx, "raw_statuses", SourceTestRail, statuses); err != nil {
		return nil, err
	}
	return &SyncSummary{Entity: string(KindStatuses), Status: summaryStatusSuccess, Count: len(statuses)}, nil
}

func (s *Service) syncUsers(ctx context.Context) (*SyncSummary, error) {
	users, err := s.testrail.Users(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sink.Insert(ctx, "raw_users", SourceTestRail, users); err != nil {
		return nil, err
	}
	return &SyncSummary{Entity: string(KindUsers), Status: summaryStatusSuccess, Count: len(users)}, nil
}

// syncSuites lists each project's suites and follows up with a per-id
// detail fetch, since the list endpoint omits part of the field set.
func (s *Service) syncSuites(ctx context.Context) (*SyncSummary, error) {
	return s.forEachProject(ctx, KindSuites, func(ctx context.Context, projectID int64, _ Record) (int, error) {
		suites, err := s.testrail.Suites(ctx, projectID)
		if err != nil {
			return 0, err
		}
		rows := make([]Record, 0, len(suites))
		for _, suite := range suites {
			suiteID, ok := suite.Int64("id")
			if !ok {
				continue
			}
			detail, err := s.testrail.Suite(ctx, suiteID)
			if err != nil {
				return 0, fmt.Errorf("suite %d detail: %w", suiteID, err)
			}
			rows = append(rows, detail.Enrich(map[string]any{"project_id": projectID}))
		}
		if err := s.sink.Insert(ctx, "raw_suites", SourceTestRail, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// syncCases fetches cases per suite when the project runs in multi-suite
// mode (suite_mode 3), otherwise once per project with no suite scoping.
func (s *Service) syncCases(ctx context.Context) (*SyncSummary, error) {
	return s.forEachProject(ctx, KindCases, func(ctx context.Context, projectID int64, project Record) (int, error) {
		suiteMode, ok := project.Int64("suite_mode")
		if !ok {
			suiteMode = 1
		}

		if suiteMode != 3 {
			cases, err := s.testrail.Cases(ctx, projectID, 0)
			if err != nil {
				return 0, err
			}
			rows := make([]Record, 0, len(cases))
			for _, c := range cases {
				rows = append(rows, c.Enrich(map[string]any{"project_id": projectID}))
			}
			if err := s.sink.Insert(ctx, "raw_cases", SourceTestRail, rows); err != nil {
				return 0, err
			}
			return len(rows), nil
		}

		suites, err := s.testrail.Suites(ctx, projectID)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, suite := range suites {
			suiteID, ok := suite.Int64("id")
			if !ok {
				continue
			}
			cases, err := s.testrail.Cases(ctx, projectID, suiteID)
			if err != nil {
				return 0, fmt.Errorf("cases for suite %d: %w", suiteID, err)
			}
			rows := make([]Record, 0, len(cases))
			for _, c := range cases {
				rows = append(rows, c.Enrich(map[string]any{"project_id": projectID, "suite_id": suiteID}))
			}
			if err := s.sink.Insert(ctx, "raw_cases", SourceTestRail, rows); err != nil {
				return 0, err
			}
			total += len(rows)
		}
		return total, nil
	})
}

// syncRuns is the incremental strategy: per project scope it reads the
// watermark, fetches runs updated after it, and advances the watermark to
// the highest timestamp observed in the batch. The watermark is written
// only when at least one record was fetched, so a no-change re-run leaves
// the stored state untouched.
func (s *Service) syncRuns(ctx context.Context) (*SyncSummary, error) {
	return s.forEachProject(ctx, KindRuns, func(ctx context.Context, projectID int64, _ Record) (int, error) {
		scope := strconv.FormatInt(projectID, 10)
		watermark, err := s.store.Get(ctx, KindRuns, scope)
		if err != nil {
			return 0, err
		}

		n, err := s.syncRunsScope(ctx, projectID, scope, watermark)
		if err != nil {
			// Best-effort failure marker; GREATEST keeps the stored
			// watermark where it was.
			if werr := s.store.Update(ctx, KindRuns, scope, 0, StatusError); werr != nil {
				s.logger.Warn("Failed to record error state", "scope", scope, "error", werr)
			}
			return 0, err
		}
		return n, nil
	})
}

func (s *Service) syncRunsScope(ctx context.Context, projectID int64, scope string, watermark int64) (int, error) {
	runs, err := s.testrail.Runs(ctx, projectID, watermark)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}

	rows := make([]Record, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, run.Enrich(map[string]any{"project_id": projectID}))
	}
	if err := s.sink.Insert(ctx, "raw_runs", SourceTestRail, rows); err != nil {
		return 0, err
	}

	// The result set is not ordered by update time; scan the whole batch.
	next := maxTimestamp(runs, watermark)
	if err := s.store.Update(ctx, KindRuns, scope, next, StatusSuccess); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// syncPlans fetches plan summaries, follows up with the detail fetch, and
// lifts the runs embedded in entries[].runs[] out as additional run rows
// tagged with plan_id and project_id. Plan-derived runs are a second
// source of the runs entity, written even when the top-level runs sync has
// already run.
func (s *Service) syncPlans(ctx context.Context) (*SyncSummary, error) {
	var extracted int
	summary, err := s.forEachProject(ctx, KindPlans, func(ctx context.Context, projectID int64, _ Record) (int, error) {
		plans, err := s.testrail.Plans(ctx, projectID)
		if err != nil {
			return 0, err
		}

		var planRows, derivedRuns []Record
		for _, plan := range plans {
			planID, ok := plan.Int64("id")
			if !ok {
				continue
			}
			detail, err := s.testrail.Plan(ctx, planID)
			if err != nil {
				return 0, fmt.Errorf("plan %d detail: %w", planID, err)
			}
			detail = detail.Enrich(map[string]any{"project_id": projectID})
			detail, err = detail.SerializeCustomFields()
			if err != nil {
				return 0, err
			}

			entries, _ := detail["entries"].([]any)
			if entries != nil {
				// The stored row carries entries as JSON text; the
				// decoded value keeps driving run extraction below.
				encoded, err := json.Marshal(entries)
				if err != nil {
					return 0, fmt.Errorf("serialize plan %d entries: %w", planID, err)
				}
				detail = detail.Enrich(map[string]any{"entries": string(encoded)})
			}
			planRows = append(planRows, detail)

			for _, entry := range entries {
				entryMap, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				runs, _ := entryMap["runs"].([]any)
				for _, run := range runs {
					runMap, ok := run.(map[string]any)
					if !ok {
						continue
					}
					derivedRuns = append(derivedRuns, Record(runMap).Enrich(map[string]any{
						"plan_id":    planID,
						"project_id": projectID,
					}))
				}
			}
		}

		if err := s.sink.Insert(ctx, "raw_plans", SourceTestRail, planRows); err != nil {
			return 0, err
		}
		if err := s.sink.Insert(ctx, "raw_runs", SourceTestRail, derivedRuns); err != nil {
			return 0, err
		}
		extracted += len(derivedRuns)
		return len(planRows), nil
	})
	if err != nil {
		return nil, err
	}
	summary.RunsExtracted = extracted
	return summary, nil
}

// syncMilestones needs the per-id detail fetch for the full field set, and
// collects custom_ fields into the custom_fields column.
func (s *Service) syncMilestones(ctx context.Context) (*SyncSummary, error) {
	return s.forEachProject(ctx, KindMilestones, func(ctx context.Context, projectID int64, _ Record) (int, error) {
		milestones, err := s.testrail.Milestones(ctx, projectID)
		if err != nil {
			return 0, err
		}
		rows := make([]Record, 0, len(milestones))
		for _, m := range milestones {
			milestoneID, ok := m.Int64("id")
			if !ok {
				continue
			}
			detail, err := s.testrail.Milestone(ctx, milestoneID)
			if err != nil {
				return 0, fmt.Errorf("milestone %d detail: %w", milestoneID, err)
			}
			detail = detail.Enrich(map[string]any{"project_id": projectID})
			detail, err = detail.SerializeCustomFields()
			if err != nil {
				return 0, err
			}
			rows = append(rows, detail)
		}
		if err := s.sink.Insert(ctx, "raw_milestones", SourceTestRail, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// syncTests enumerates run ids from the warehouse's previously ingested
// run rows, then fetches each run's tests.
func (s *Service) syncTests(ctx context.Context) (*SyncSummary, error) {
	return s.forEachProject(ctx, KindTests, func(ctx context.Context, projectID int64, _ Record) (int, error) {
		runIDs, err := s.sink.RunIDs(ctx, projectID)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, runID := range runIDs {
			tests, err := s.testrail.Tests(ctx, runID)
			if err != nil {
				return 0, fmt.Errorf("tests for run %d: %w", runID, err)
			}
			if err := s.sink.Insert(ctx, "raw_tests", SourceTestRail, tests); err != nil {
				return 0, err
			}
			total += len(tests)
		}
		return total, nil
	})
}

// syncResults mirrors syncTests, tagging each result with its run id and
// extracting custom fields.
func (s *Service) syncResults(ctx context.Context) (*SyncSummary, error) {
	return s.forEachProject(ctx, KindResults, func(ctx context.Context, projectID int64, _ Record) (int, error) {
		runIDs, err := s.sink.RunIDs(ctx, projectID)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, runID := range runIDs {
			results, err := s.testrail.Results(ctx, runID)
			if err != nil {
				return 0, fmt.Errorf("results for run %d: %w", runID, err)
			}
			rows := make([]Record, 0, len(results))
			for _, result := range results {
				row := result.Enrich(map[string]any{"run_id": runID})
				row, err = row.SerializeCustomFields()
				if err != nil {
					return 0, err
				}
				rows = append(rows, row)
			}
			if err := s.sink.Insert(ctx, "raw_results", SourceTestRail, rows); err != nil {
				return 0, err
			}
			total += len(rows)
		}
		return total, nil
	})
}

// syncJiraIssues streams the flattened issue sequence into the warehouse
// in bounded batches. Already-flushed batches stay in place on a
// mid-stream failure; the append-only design makes partial writes safe.
func (s *Service) syncJiraIssues(ctx context.Context) (*SyncSummary, error) {
	summary := &SyncSummary{Entity: string(KindJiraIssues), Status: summaryStatusSuccess}

	batch := make([]Record, 0, s.config.JiraBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.sink.Insert(ctx, "raw_jira_issues", SourceJira, batch); err != nil {
			return err
		}
		summary.Count += len(batch)
		batch = batch[:0]
		return nil
	}

	for issue, err := range s.jira.Issues(ctx, s.config.JiraJQL) {
		if err == nil {
			batch = append(batch, issue)
			if len(batch) < s.config.JiraBatchSize {
				continue
			}
			err = flush()
		}
		if err != nil {
			if werr := s.store.Update(ctx, KindJiraIssues, "", 0, StatusError); werr != nil {
				s.logger.Warn("Failed to record error state", "entity", KindJiraIssues, "error", werr)
			}
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, KindJiraIssues, "", 0, StatusSuccess); err != nil {
		return nil, err
	}
	return summary, nil
}
