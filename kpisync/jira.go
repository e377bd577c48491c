// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultJiraPageSize = 100

// issueFields is the field set requested from the search endpoint; it
// matches the flattened columns of raw_jira_issues.
var issueFields = []string{
	"id", "key", "summary", "status", "priority",
	"created", "updated", "assignee", "reporter", "resolution",
}

// JiraConfig holds already-resolved connection settings for the
// issue-tracker API.
type JiraConfig struct {
	BaseURL  string
	Email    string
	Token    string
	PageSize int // maxResults per search page (default 100)
}

// JiraClient is the query-driven source client for issue sync.
type JiraClient struct {
	config  *JiraConfig
	fetcher *Fetcher
	logger  *slog.Logger
}

func NewJiraClient(config *JiraConfig, fetcher *Fetcher, logger *slog.Logger) *JiraClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := *config
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultJiraPageSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &JiraClient{config: &cfg, fetcher: fetcher, logger: logger}
}

type issueSearchPage struct {
	Issues        []Record `json:"issues"`
	NextPageToken string   `json:"nextPageToken"`
}

// The search/jql endpoint pages with an opaque nextPageToken, not startAt.
func (c *JiraClient) searchPage(ctx context.Context, jql, token string) ([]Record, string, error) {
	payload := map[string]any{
		"jql":        jql,
		"maxResults": c.config.PageSize,
		"fields":     issueFields,
	}
	if token != "" {
		payload["nextPageToken"] = token
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode search payload: %w", err)
	}

	target := c.config.BaseURL + "/rest/api/3/search/jql"
	resp, err := c.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.config.Email, c.config.Token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, "", err
	}

	var page issueSearchPage
	if err := json.Unmarshal(resp, &page); err != nil {
		return nil, "", fmt.Errorf("decode search page: %w", err)
	}
	return page.Issues, page.NextPageToken, nil
}

// Issues produces a lazy, finite, single-pass sequence of flattened issue
// records for the query. Callers batch-process the sequence so a large
// result set never lives in memory at once.
func (c *JiraClient) Issues(ctx context.Context, jql string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for raw, err := range cursorSeq(ctx, func(ctx context.Context, token string) ([]Record, string, error) {
			c.logger.Debug("Fetching issue page", "jql", jql, "token", token)
			return c.searchPage(ctx, jql, token)
		}) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(c.flattenIssue(raw), nil) {
				return
			}
		}
	}
}

// flattenIssue maps the nested issue structure to flat scalar columns and
// synthesizes a browse URL from the issue key. Missing nested objects map
// to nil fields, never errors.
func (c *JiraClient) flattenIssue(issue Record) Record {
	fields, _ := issue["fields"].(map[string]any)

	key, _ := issue["key"].(string)
	var browseURL any
	if key != "" {
		browseURL = c.config.BaseURL + "/browse/" + key
	}

	return Record{
		"id":         issue["id"],
		"key":        issue["key"],
		"summary":    fields["summary"],
		"status":     nestedField(fields, "status", "name"),
		"priority":   nestedField(fields, "priority", "name"),
		"created":    reformatIssueTimestamp(fields["created"]),
		"updated":    reformatIssueTimestamp(fields["updated"]),
		"assignee":   nestedField(fields, "assignee", "displayName"),
		"reporter":   nestedField(fields, "reporter", "displayName"),
		"resolution": nestedField(fields, "resolution", "name"),
		"url":        browseURL,
	}
}

func nestedField(fields map[string]any, key, sub string) any {
	obj, ok := fields[key].(map[string]any)
	if !ok {
		return nil
	}
	v, ok := obj[sub]
	if !ok {
		return nil
	}
	return v
}

// reformatIssueTimestamp converts the issue tracker's zoned timestamps
// (2023-01-16T10:39:19.462-0500) to a UTC warehouse encoding. Values that
// do not parse pass through unchanged to preserve raw fidelity.
func reformatIssueTimestamp(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	t, err := time.Parse("2006-01-02T15:04:05.000-0700", s)
	if err != nil {
		return v
	}
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}
