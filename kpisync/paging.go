// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"iter"
)

// collectOffset accumulates a complete collection from offset/limit page
// fetches. It advances the offset by the returned batch size and stops when
// a batch comes back short or empty. An empty first page yields zero
// records, not an error.
func collectOffset(ctx context.Context, limit int, page func(ctx context.Context, offset, limit int) ([]Record, error)) ([]Record, error) {
	var all []Record
	offset := 0
	for {
		batch, err := page(ctx, offset, limit)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		if len(batch) < limit {
			return all, nil
		}
		offset += len(batch)
	}
}

// cursorSeq drives opaque-token pagination and surfaces each record as a
// finite, single-pass sequence so callers can batch-process high-volume
// results without holding the full set. The token is absent on the first
// call; iteration ends when the source reports no next token or returns an
// empty page. A fetch error is yielded once and terminates the sequence.
func cursorSeq(ctx context.Context, fetch func(ctx context.Context, token string) ([]Record, string, error)) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		token := ""
		for {
			records, next, err := fetch(ctx, token)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(records) == 0 {
				return
			}
			for _, r := range records {
				if !yield(r, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			token = next
		}
	}
}
