// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultPageLimit = 250

// TestRailConfig holds already-resolved connection settings for the
// test-management API. Secrets are resolved by the caller; the client has
// no side effects at construction.
type TestRailConfig struct {
	BaseURL   string // instance base URL, e.g. https://acme.testrail.io
	User      string
	APIKey    string
	PageLimit int // page size for offset-paged endpoints (default 250)
}

// TestRailClient exposes one typed accessor per entity, built on the
// resilient fetcher and the pagination helpers.
type TestRailClient struct {
	config  *TestRailConfig
	fetcher *Fetcher
	logger  *slog.Logger
	apiRoot string
}

func NewTestRailClient(config *TestRailConfig, fetcher *Fetcher, logger *slog.Logger) *TestRailClient {
	if logger == nil {
		logger = slog.Default()
	}
	limit := config.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	cfg := *config
	cfg.PageLimit = limit
	return &TestRailClient{
		config:  &cfg,
		fetcher: fetcher,
		logger:  logger,
		// TestRail routes API calls through index.php; endpoint and
		// filters ride in the query string after the pseudo-path.
		apiRoot: strings.TrimRight(config.BaseURL, "/") + "/index.php?/api/v2",
	}
}

func (c *TestRailClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := c.apiRoot + "/" + endpoint
	if len(params) > 0 {
		target += "&" + params.Encode()
	}
	return c.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.config.User, c.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// decodeCollection tolerates both response shapes the API produces: a bare
// array, or an object wrapping the array under a named key (the paged
// envelope with offset/size/_links).
func decodeCollection(body []byte, key string) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode %s collection: %w", key, err)
	}
	raw, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("decode %s collection: response carries neither an array nor a %q key", key, key)
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s collection: %w", key, err)
	}
	return records, nil
}

func decodeRecord(body []byte, what string) (Record, error) {
	var r Record
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return r, nil
}

func (c *TestRailClient) getCollection(ctx context.Context, endpoint, key string, params url.Values) ([]Record, error) {
	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	return decodeCollection(body, key)
}

// Projects returns the full project snapshot. The projects entity has no
// updated-after support, so there is no incremental variant.
func (c *TestRailClient) Projects(ctx context.Context) ([]Record, error) {
	return c.getCollection(ctx, "get_projects", "projects", nil)
}

// Runs returns the project's runs, filtered source-side to those updated
// after the given epoch timestamp when updatedAfter > 0.
func (c *TestRailClient) Runs(ctx context.Context, projectID, updatedAfter int64) ([]Record, error) {
	params := url.Values{}
	if updatedAfter > 0 {
		params.Set("updated_after", strconv.FormatInt(updatedAfter, 10))
	}
	return c.getCollection(ctx, "get_runs/"+strconv.FormatInt(projectID, 10), "runs", params)
}

// Suites returns the project's suite summaries.
func (c *TestRailClient) Suites(ctx context.Context, projectID int64) ([]Record, error) {
	return c.getCollection(ctx, "get_suites/"+strconv.FormatInt(projectID, 10), "suites", nil)
}

// Suite returns the full field set for one suite.
func (c *TestRailClient) Suite(ctx context.Context, suiteID int64) (Record, error) {
	body, err := c.get(ctx, "get_suite/"+strconv.FormatInt(suiteID, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body, "suite")
}

// Cases returns the project's cases, offset-paged. Pass suiteID > 0 for
// multi-suite projects (suite_mode 3); pass 0 to fetch without suite
// scoping.
func (c *TestRailClient) Cases(ctx context.Context, projectID, suiteID int64) ([]Record, error) {
	endpoint := "get_cases/" + strconv.FormatInt(projectID, 10)
	return collectOffset(ctx, c.config.PageLimit, func(ctx context.Context, offset, limit int) ([]Record, error) {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(limit))
		if suiteID > 0 {
			params.Set("suite_id", strconv.FormatInt(suiteID, 10))
		}
		return c.getCollection(ctx, endpoint, "cases", params)
	})
}

// Plans returns the project's plan summaries. Full plans, including the
// nested entries, come from Plan.
func (c *TestRailClient) Plans(ctx context.Context, projectID int64) ([]Record, error) {
	return c.getCollection(ctx, "get_plans/"+strconv.FormatInt(projectID, 10), "plans", nil)
}

// Plan returns the detailed plan record carrying entries[].runs[].
func (c *TestRailClient) Plan(ctx context.Context, planID int64) (Record, error) {
	body, err := c.get(ctx, "get_plan/"+strconv.FormatInt(planID, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body, "plan")
}

// Tests returns the run's tests, offset-paged.
func (c *TestRailClient) Tests(ctx context.Context, runID int64) ([]Record, error) {
	endpoint := "get_tests/" + strconv.FormatInt(runID, 10)
	return collectOffset(ctx, c.config.PageLimit, func(ctx context.Context, offset, limit int) ([]Record, error) {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(limit))
		return c.getCollection(ctx, endpoint, "tests", params)
	})
}

// Results returns the run's results, offset-paged.
func (c *TestRailClient) Results(ctx context.Context, runID int64) ([]Record, error) {
	endpoint := "get_results_for_run/" + strconv.FormatInt(runID, 10)
	return collectOffset(ctx, c.config.PageLimit, func(ctx context.Context, offset, limit int) ([]Record, error) {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(limit))
		return c.getCollection(ctx, endpoint, "results", params)
	})
}

// Milestones returns the project's milestone summaries.
func (c *TestRailClient) Milestones(ctx context.Context, projectID int64) ([]Record, error) {
	return c.getCollection(ctx, "get_milestones/"+strconv.FormatInt(projectID, 10), "milestones", nil)
}

// Milestone returns the full field set for one milestone.
func (c *TestRailClient) Milestone(ctx context.Context, milestoneID int64) (Record, error) {
	body, err := c.get(ctx, "get_milestone/"+strconv.FormatInt(milestoneID, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body, "milestone")
}

// Statuses returns the full status snapshot.
func (c *TestRailClient) Statuses(ctx context.Context) ([]Record, error) {
	return c.getCollection(ctx, "get_statuses", "statuses", nil)
}

// Users returns the full user snapshot.
func (c *TestRailClient) Users(ctx context.Context) ([]Record, error) {
	return c.getCollection(ctx, "get_users", "users", nil)
}
