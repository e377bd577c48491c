// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPError is a non-2xx response from a source API. Rate limits (429) and
// server-side errors are retryable; any other 4xx is terminal and carries
// the response body for diagnosis.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("source returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FetcherConfig bounds the retry policy. This is the only place backoff
// policy lives; higher components assume a fetch either eventually
// succeeds or fails terminally.
type FetcherConfig struct {
	MaxAttempts int           // attempt ceiling, including the first try
	MinBackoff  time.Duration // delay before the second attempt
	MaxBackoff  time.Duration // backoff cap; delay doubles per attempt
}

// DefaultFetcherConfig mirrors the source API operator guidance:
// 5 attempts, exponential backoff between 4s and 60s.
func DefaultFetcherConfig() *FetcherConfig {
	return &FetcherConfig{
		MaxAttempts: 5,
		MinBackoff:  4 * time.Second,
		MaxBackoff:  60 * time.Second,
	}
}

// Fetcher wraps one outbound source API call with retry and rate-limit
// handling.
type Fetcher struct {
	client *http.Client
	config *FetcherConfig
	logger *slog.Logger
}

// NewFetcher creates a fetcher. A nil client falls back to
// http.DefaultClient, a nil config to DefaultFetcherConfig.
func NewFetcher(client *http.Client, config *FetcherConfig, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if config == nil {
		config = DefaultFetcherConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, config: config, logger: logger}
}

// Do executes one logical request and returns the response body. The
// request is rebuilt per attempt so bodies can be replayed. Transient
// network failures, 429 and 5xx responses are retried with exponential
// backoff; other non-2xx statuses return an *HTTPError immediately.
func (f *Fetcher) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	delay := f.config.MinBackoff
	var lastErr error

	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			f.logger.Warn("Retrying source fetch",
				"attempt", attempt, "max_attempts", f.config.MaxAttempts,
				"delay", delay, "error", lastErr)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			if delay > f.config.MaxBackoff {
				delay = f.config.MaxBackoff
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		if !httpErr.retryable() {
			return nil, httpErr
		}
		if httpErr.StatusCode == http.StatusTooManyRequests {
			f.logger.Warn("Source rate limit hit", "url", req.URL.Redacted())
		}
		lastErr = httpErr
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", f.config.MaxAttempts, lastErr)
}
