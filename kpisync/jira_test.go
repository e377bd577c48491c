// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newJiraForServer(t *testing.T, handler http.HandlerFunc) *JiraClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewJiraClient(&JiraConfig{
		BaseURL:  srv.URL,
		Email:    "bot@example.com",
		Token:    "token",
		PageSize: 2,
	}, NewFetcher(nil, &FetcherConfig{
		MaxAttempts: 2,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}, nil), nil)
}

func collectIssues(t *testing.T, client *JiraClient, jql string) []Record {
	t.Helper()
	var issues []Record
	for issue, err := range client.Issues(context.Background(), jql) {
		require.NoError(t, err)
		issues = append(issues, issue)
	}
	return issues
}

func TestIssuesPagesWithToken(t *testing.T) {
	var requests []map[string]any
	client := newJiraForServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/api/3/search/jql", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		requests = append(requests, payload)

		page := issueSearchPage{}
		if _, hasToken := payload["nextPageToken"]; !hasToken {
			page.Issues = []Record{{"id": "1", "key": "QA-1"}, {"id": "2", "key": "QA-2"}}
			page.NextPageToken = "page-two"
		} else {
			page.Issues = []Record{{"id": "3", "key": "QA-3"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	})

	issues := collectIssues(t, client, `project = QA ORDER BY updated DESC`)
	require.Len(t, issues, 3)
	require.Equal(t, "QA-3", issues[2]["key"])

	require.Len(t, requests, 2)
	require.Equal(t, `project = QA ORDER BY updated DESC`, requests[0]["jql"])
	require.Equal(t, float64(2), requests[0]["maxResults"])
	require.NotContains(t, requests[0], "nextPageToken")
	require.Equal(t, "page-two", requests[1]["nextPageToken"])
}

func TestIssuesEmptyResult(t *testing.T) {
	client := newJiraForServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"issues":[]}`))
	})
	require.Empty(t, collectIssues(t, client, "project = QA"))
}

func TestIssuesYieldsFetchError(t *testing.T) {
	client := newJiraForServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":["bad jql"]}`))
	})

	var yields int
	var got error
	for _, err := range client.Issues(context.Background(), "not a query") {
		yields++
		got = err
	}
	require.Equal(t, 1, yields)
	var httpErr *HTTPError
	require.ErrorAs(t, got, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestFlattenIssue(t *testing.T) {
	client := NewJiraClient(&JiraConfig{BaseURL: "https://acme.atlassian.net/"}, nil, nil)

	flat := client.flattenIssue(Record{
		"id":  "10042",
		"key": "QA-42",
		"fields": map[string]any{
			"summary":    "Checkout flaky on retry",
			"status":     map[string]any{"name": "In Progress"},
			"priority":   map[string]any{"name": "High"},
			"assignee":   map[string]any{"displayName": "Dana Reyes"},
			"reporter":   map[string]any{"displayName": "Sam Okafor"},
			"resolution": nil,
			"created":    "2023-01-16T10:39:19.462-0500",
			"updated":    "2023-01-17T08:00:00.000+0000",
		},
	})

	require.Equal(t, "QA-42", flat["key"])
	require.Equal(t, "Checkout flaky on retry", flat["summary"])
	require.Equal(t, "In Progress", flat["status"])
	require.Equal(t, "High", flat["priority"])
	require.Equal(t, "Dana Reyes", flat["assignee"])
	require.Equal(t, "Sam Okafor", flat["reporter"])
	require.Nil(t, flat["resolution"])
	require.Equal(t, "https://acme.atlassian.net/browse/QA-42", flat["url"])
	require.Equal(t, "2023-01-16 15:39:19.462000", flat["created"])
	require.Equal(t, "2023-01-17 08:00:00.000000", flat["updated"])
}

func TestFlattenIssueMissingFields(t *testing.T) {
	client := NewJiraClient(&JiraConfig{BaseURL: "https://acme.atlassian.net"}, nil, nil)

	flat := client.flattenIssue(Record{"id": "1"})
	require.Equal(t, "1", flat["id"])
	require.Nil(t, flat["key"])
	require.Nil(t, flat["status"])
	require.Nil(t, flat["assignee"])
	require.Nil(t, flat["url"])
}

func TestReformatIssueTimestamp(t *testing.T) {
	require.Equal(t, "2023-06-01 12:30:00.500000",
		reformatIssueTimestamp("2023-06-01T14:30:00.500+0200"))
	// Unparseable values pass through untouched.
	require.Equal(t, "yesterday", reformatIssueTimestamp("yesterday"))
	require.Nil(t, reformatIssueTimestamp(nil))
	require.Equal(t, float64(5), reformatIssueTimestamp(float64(5)))
}
