// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

// Package secrets resolves named configuration strings (API credentials,
// the trigger secret) from a backing store. Resolution happens once at
// process start; resolved values are passed to constructors as plain
// strings so no client construction has secret-fetching side effects.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// ErrSecretNotFound is returned when the backing store has no value for
// the requested name.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver returns the value of a named secret.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// EnvResolver reads secrets from environment variables: the name
// testrail_api_key resolves from KPIS_TESTRAIL_API_KEY under the default
// prefix. This is the local/default backend.
type EnvResolver struct {
	Prefix string // defaults to "KPIS"
}

func (r *EnvResolver) Resolve(_ context.Context, name string) (string, error) {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "KPIS"
	}
	key := prefix + "_" + strings.ToUpper(name)
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("resolve %s (env %s): %w", name, key, ErrSecretNotFound)
	}
	return value, nil
}

// ManagerAPI is the slice of the Secrets Manager client this package
// uses; the indirection keeps the resolver testable without AWS.
type ManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSResolver reads secrets from AWS Secrets Manager. Secret names are
// prefixed (e.g. kpis/testrail_api_key) so one account can host several
// deployments.
type AWSResolver struct {
	api    ManagerAPI
	prefix string
	logger *slog.Logger
}

// NewAWSResolver loads the default AWS configuration and builds a
// resolver over Secrets Manager.
func NewAWSResolver(ctx context.Context, prefix string, logger *slog.Logger) (*AWSResolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewAWSResolverWithAPI(secretsmanager.NewFromConfig(cfg), prefix, logger), nil
}

// NewAWSResolverWithAPI builds a resolver over an existing API client.
func NewAWSResolverWithAPI(api ManagerAPI, prefix string, logger *slog.Logger) *AWSResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSResolver{api: api, prefix: prefix, logger: logger}
}

func (r *AWSResolver) Resolve(ctx context.Context, name string) (string, error) {
	secretID := name
	if r.prefix != "" {
		secretID = strings.TrimRight(r.prefix, "/") + "/" + name
	}

	out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
			return "", fmt.Errorf("resolve %s: %w", name, ErrSecretNotFound)
		}
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("resolve %s: %w", name, ErrSecretNotFound)
	}
	r.logger.Debug("Resolved secret", "name", name)
	return *out.SecretString, nil
}
