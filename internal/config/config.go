// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the non-secret process configuration from the
// environment (prefix KPIS_). Secrets are resolved separately by
// internal/secrets.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved process configuration.
type Config struct {
	DatabaseURL string // warehouse connection string
	ListenAddr  string // HTTP trigger listen address

	JiraJQL       string // issue selection; empty disables jira sync
	JiraBatchSize int

	// ProjectIDs limits scoped syncs to these project ids (cost control).
	ProjectIDs []int64

	// SecretsBackend selects the secret resolver: "env" (default) or "aws".
	SecretsBackend string
	// SecretsPrefix namespaces AWS Secrets Manager lookups, e.g. "kpis".
	SecretsPrefix string
}

// Load reads the environment. Only DatabaseURL is mandatory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KPIS")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("jira_batch_size", 500)
	v.SetDefault("secrets_backend", "env")
	v.SetDefault("secrets_prefix", "kpis")

	cfg := &Config{
		DatabaseURL:    v.GetString("database_url"),
		ListenAddr:     v.GetString("listen_addr"),
		JiraJQL:        v.GetString("jira_jql"),
		JiraBatchSize:  v.GetInt("jira_batch_size"),
		SecretsBackend: v.GetString("secrets_backend"),
		SecretsPrefix:  v.GetString("secrets_prefix"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("KPIS_DATABASE_URL is required")
	}

	ids, err := parseProjectIDs(v.GetString("project_ids"))
	if err != nil {
		return nil, err
	}
	cfg.ProjectIDs = ids

	switch cfg.SecretsBackend {
	case "env", "aws":
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.SecretsBackend)
	}

	return cfg, nil
}

func parseProjectIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid project id %q in KPIS_PROJECT_IDS", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
