// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c4jnpky8hx-a11y/kpis/internal/config"
	"github.com/c4jnpky8hx-a11y/kpis/internal/secrets"
	"github.com/c4jnpky8hx-a11y/kpis/kpisync"
)

// components holds everything a command needs, wired from resolved
// configuration. The pool is owned by the caller.
type components struct {
	Pool    *pgxpool.Pool
	Service *kpisync.Service
	Auth    *kpisync.TriggerAuth
}

func (c *components) Close() {
	c.Pool.Close()
}

func newResolver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (secrets.Resolver, error) {
	if cfg.SecretsBackend == "aws" {
		return secrets.NewAWSResolver(ctx, cfg.SecretsPrefix, logger)
	}
	return &secrets.EnvResolver{}, nil
}

func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	resolver, err := newResolver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	trURL, err := resolver.Resolve(ctx, "testrail_url")
	if err != nil {
		return nil, err
	}
	trUser, err := resolver.Resolve(ctx, "testrail_user")
	if err != nil {
		return nil, err
	}
	trKey, err := resolver.Resolve(ctx, "testrail_api_key")
	if err != nil {
		return nil, err
	}

	fetcher := kpisync.NewFetcher(nil, nil, logger)
	testrail := kpisync.NewTestRailClient(&kpisync.TestRailConfig{
		BaseURL: trURL,
		User:    trUser,
		APIKey:  trKey,
	}, fetcher, logger)

	var jira *kpisync.JiraClient
	if cfg.JiraJQL != "" {
		jiraURL, err := resolver.Resolve(ctx, "jira_url")
		if err != nil {
			return nil, err
		}
		jiraEmail, err := resolver.Resolve(ctx, "jira_email")
		if err != nil {
			return nil, err
		}
		jiraToken, err := resolver.Resolve(ctx, "jira_token")
		if err != nil {
			return nil, err
		}
		jira = kpisync.NewJiraClient(&kpisync.JiraConfig{
			BaseURL: jiraURL,
			Email:   jiraEmail,
			Token:   jiraToken,
		}, fetcher, logger)
	} else {
		logger.Info("KPIS_JIRA_JQL not set, jira_issues sync disabled")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	if err := kpisync.InitializeSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize warehouse schema: %w", err)
	}

	service, err := kpisync.NewService(
		testrail, jira,
		kpisync.NewPGWatermarkStore(pool),
		kpisync.NewPGSink(pool, logger),
		&kpisync.ServiceConfig{
			ProjectIDs:    cfg.ProjectIDs,
			JiraJQL:       cfg.JiraJQL,
			JiraBatchSize: cfg.JiraBatchSize,
		}, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	triggerSecret, err := resolver.Resolve(ctx, "sync_token")
	if err != nil {
		if !errors.Is(err, secrets.ErrSecretNotFound) {
			pool.Close()
			return nil, err
		}
		logger.Warn("No trigger secret configured, sync endpoint is unauthenticated")
		triggerSecret = ""
	}

	return &components{
		Pool:    pool,
		Service: service,
		Auth:    kpisync.NewTriggerAuth(triggerSecret),
	}, nil
}
