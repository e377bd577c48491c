// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TriggerAuth guards the sync trigger endpoint with a shared secret. A
// caller authenticates either with the raw secret in the token query
// parameter, or with an HS256 bearer token signed with the same secret
// (the shape schedulers that mint short-lived tokens prefer).
type TriggerAuth struct {
	secret []byte
}

func NewTriggerAuth(secret string) *TriggerAuth {
	return &TriggerAuth{secret: []byte(secret)}
}

// Authorize rejects the request before any sync work begins.
func (a *TriggerAuth) Authorize(r *http.Request) error {
	if len(a.secret) == 0 {
		// Auth disabled (local runs); the server warns at startup.
		return nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		if subtle.ConstantTimeCompare([]byte(token), a.secret) == 1 {
			return nil
		}
		return errors.New("invalid token")
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return errors.New("token parameter or authorization header required")
	}
	bearer := strings.TrimPrefix(authHeader, "Bearer ")
	if bearer == authHeader {
		return errors.New("bearer token required")
	}
	return a.validateBearer(bearer)
}

func (a *TriggerAuth) validateBearer(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid bearer token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid bearer token")
	}
	return nil
}
