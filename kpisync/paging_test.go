// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func fixtureRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{"id": float64(i + 1)}
	}
	return records
}

func TestCollectOffsetAccumulatesFixtureExactlyOnce(t *testing.T) {
	fixture := fixtureRecords(23)

	for _, limit := range []int{1, 5, 23, 100} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			got, err := collectOffset(context.Background(), limit, func(_ context.Context, offset, limit int) ([]Record, error) {
				if offset >= len(fixture) {
					return nil, nil
				}
				end := offset + limit
				if end > len(fixture) {
					end = len(fixture)
				}
				return fixture[offset:end], nil
			})
			require.NoError(t, err)
			require.Equal(t, fixture, got)
		})
	}
}

func TestCollectOffsetEmptyFirstPage(t *testing.T) {
	got, err := collectOffset(context.Background(), 250, func(_ context.Context, offset, limit int) ([]Record, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCollectOffsetPropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("boom")
	_, err := collectOffset(context.Background(), 2, func(_ context.Context, offset, limit int) ([]Record, error) {
		if offset == 0 {
			return fixtureRecords(2), nil
		}
		return nil, fetchErr
	})
	require.ErrorIs(t, err, fetchErr)
}

func TestCursorSeqReachesExhaustion(t *testing.T) {
	pages := map[string]struct {
		records []Record
		next    string
	}{
		"":   {fixtureRecords(2), "p2"},
		"p2": {[]Record{{"id": float64(3)}}, "p3"},
		"p3": {[]Record{{"id": float64(4)}}, ""}, // no next token on the last page
	}

	var got []Record
	for r, err := range cursorSeq(context.Background(), func(_ context.Context, token string) ([]Record, string, error) {
		page := pages[token]
		return page.records, page.next, nil
	}) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 4)
	require.Equal(t, float64(4), got[3]["id"])
}

func TestCursorSeqEmptyFirstPage(t *testing.T) {
	count := 0
	for range cursorSeq(context.Background(), func(_ context.Context, token string) ([]Record, string, error) {
		return nil, "", nil
	}) {
		count++
	}
	require.Zero(t, count)
}

func TestCursorSeqStopsOnEmptyPageDespiteToken(t *testing.T) {
	calls := 0
	for _, err := range cursorSeq(context.Background(), func(_ context.Context, token string) ([]Record, string, error) {
		calls++
		if calls == 1 {
			return fixtureRecords(1), "more", nil
		}
		return nil, "even-more", nil
	}) {
		require.NoError(t, err)
	}
	require.Equal(t, 2, calls)
}

func TestCursorSeqYieldsErrorOnce(t *testing.T) {
	fetchErr := errors.New("token expired")
	var records, errs int
	for r, err := range cursorSeq(context.Background(), func(_ context.Context, token string) ([]Record, string, error) {
		if token == "" {
			return fixtureRecords(1), "p2", nil
		}
		return nil, "", fetchErr
	}) {
		if err != nil {
			errs++
			require.ErrorIs(t, err, fetchErr)
			continue
		}
		_ = r
		records++
	}
	require.Equal(t, 1, records)
	require.Equal(t, 1, errs)
}

func TestCursorSeqSinglePassEarlyStop(t *testing.T) {
	calls := 0
	seq := cursorSeq(context.Background(), func(_ context.Context, token string) ([]Record, string, error) {
		calls++
		return fixtureRecords(5), "next", nil
	})
	for range seq {
		break
	}
	require.Equal(t, 1, calls)
}
