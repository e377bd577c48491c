// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// trHandler serves one API endpoint of the fake test-management server.
// The endpoint is whatever follows /api/v2/, e.g. "get_cases/7".
type trHandler func(t *testing.T, params url.Values, w http.ResponseWriter)

// trServer fakes the index.php?/api/v2 routing scheme, where the endpoint
// and its filters ride in the query string.
type trServer struct {
	*httptest.Server
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]trHandler
	calls    []string
}

func newTRServer(t *testing.T, handlers map[string]trHandler) *trServer {
	s := &trServer{t: t, handlers: handlers}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint, params := splitTRQuery(t, r.URL.RawQuery)
		s.mu.Lock()
		s.calls = append(s.calls, endpoint)
		s.mu.Unlock()

		h, ok := s.handlers[endpoint]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown endpoint ` + endpoint + `"}`))
			return
		}
		h(t, params, w)
	}))
	t.Cleanup(s.Close)
	return s
}

func splitTRQuery(t *testing.T, rawQuery string) (string, url.Values) {
	t.Helper()
	head, rest, _ := strings.Cut(rawQuery, "&")
	endpoint := strings.TrimPrefix(head, "/api/v2/")
	params, err := url.ParseQuery(rest)
	require.NoError(t, err)
	return endpoint, params
}

func (s *trServer) callCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func respondWith(v any) trHandler {
	return func(t *testing.T, _ url.Values, w http.ResponseWriter) {
		writeJSON(t, w, v)
	}
}

func newTestRailForServer(srv *trServer) *TestRailClient {
	return NewTestRailClient(&TestRailConfig{
		BaseURL: srv.URL,
		User:    "bot@example.com",
		APIKey:  "key",
	}, NewFetcher(nil, &FetcherConfig{
		MaxAttempts: 2,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}, nil), nil)
}

func TestProjectsBareCollection(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_projects": respondWith([]Record{{"id": float64(1)}, {"id": float64(2)}}),
	})
	projects, err := newTestRailForServer(srv).Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
}

func TestProjectsWrappedCollection(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_projects": respondWith(map[string]any{
			"offset": 0, "limit": 250, "size": 1,
			"projects": []Record{{"id": float64(7), "name": "Payments"}},
		}),
	})
	projects, err := newTestRailForServer(srv).Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "Payments", projects[0]["name"])
}

func TestProjectsUnexpectedShape(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_projects": respondWith(map[string]any{"unexpected": true}),
	})
	_, err := newTestRailForServer(srv).Projects(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), `"projects"`)
}

func TestRunsPassesUpdatedAfter(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_runs/7": func(t *testing.T, params url.Values, w http.ResponseWriter) {
			require.Equal(t, "1700000000", params.Get("updated_after"))
			writeJSON(t, w, map[string]any{"runs": []Record{{"id": float64(5)}}})
		},
	})
	runs, err := newTestRailForServer(srv).Runs(context.Background(), 7, 1700000000)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestRunsOmitsUpdatedAfterOnFirstSync(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_runs/7": func(t *testing.T, params url.Values, w http.ResponseWriter) {
			require.False(t, params.Has("updated_after"))
			writeJSON(t, w, []Record{})
		},
	})
	runs, err := newTestRailForServer(srv).Runs(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestCasesOffsetPagingWithSuiteScope(t *testing.T) {
	// Three pages at limit 250: full, full, short.
	page := func(offset, n int) []Record {
		records := make([]Record, n)
		for i := range records {
			records[i] = Record{"id": float64(offset + i + 1)}
		}
		return records
	}
	srv := newTRServer(t, map[string]trHandler{
		"get_cases/7": func(t *testing.T, params url.Values, w http.ResponseWriter) {
			require.Equal(t, "3", params.Get("suite_id"))
			require.Equal(t, "250", params.Get("limit"))
			switch params.Get("offset") {
			case "0":
				writeJSON(t, w, map[string]any{"cases": page(0, 250)})
			case "250":
				writeJSON(t, w, map[string]any{"cases": page(250, 250)})
			case "500":
				writeJSON(t, w, map[string]any{"cases": page(500, 10)})
			default:
				t.Fatalf("unexpected offset %s", params.Get("offset"))
			}
		},
	})
	cases, err := newTestRailForServer(srv).Cases(context.Background(), 7, 3)
	require.NoError(t, err)
	require.Len(t, cases, 510)
	require.Equal(t, 3, srv.callCount("get_cases/7"))
}

func TestCasesWithoutSuiteScope(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_cases/7": func(t *testing.T, params url.Values, w http.ResponseWriter) {
			require.False(t, params.Has("suite_id"))
			writeJSON(t, w, map[string]any{"cases": []Record{{"id": float64(1)}}})
		},
	})
	cases, err := newTestRailForServer(srv).Cases(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
}

func TestPlanDetail(t *testing.T) {
	srv := newTRServer(t, map[string]trHandler{
		"get_plan/42": respondWith(Record{
			"id":      float64(42),
			"entries": []any{map[string]any{"runs": []any{map[string]any{"id": float64(5)}}}},
		}),
	})
	plan, err := newTestRailForServer(srv).Plan(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, float64(42), plan["id"])
	require.NotNil(t, plan["entries"])
}

func TestClientSendsBasicAuth(t *testing.T) {
	var user, pass string
	var okAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, okAuth = r.BasicAuth()
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	t.Cleanup(srv.Close)

	client := NewTestRailClient(&TestRailConfig{
		BaseURL: srv.URL, User: "bot@example.com", APIKey: "key",
	}, NewFetcher(nil, nil, nil), nil)
	_, err := client.Statuses(context.Background())
	require.NoError(t, err)
	require.True(t, okAuth)
	require.Equal(t, "bot@example.com", user)
	require.Equal(t, "key", pass)
}
