// Copyright 2026 The kpis Authors
// SPDX-License-Identifier: Apache-2.0

package kpisync

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// HTTPHandlers exposes the sync trigger surface.
type HTTPHandlers struct {
	service *Service
	auth    *TriggerAuth
	logger  *slog.Logger
}

func NewHTTPHandlers(service *Service, auth *TriggerAuth, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{service: service, auth: auth, logger: logger}
}

// Register mounts the handlers on the mux.
func (h *HTTPHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/jobs/sync", h.HandleSync)
	mux.HandleFunc("/healthz", h.HandleHealth)
}

// HandleSync triggers one entity sync. Unauthorized or missing-entity
// requests are rejected before any sync work begins.
func (h *HTTPHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	if err := h.auth.Authorize(r); err != nil {
		h.logger.Warn("Unauthorized sync attempt", "error", err, "remote", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	entity := r.URL.Query().Get("entity")
	if entity == "" {
		h.writeError(w, http.StatusBadRequest, "missing_entity", "Missing 'entity' parameter")
		return
	}
	kind, err := ParseEntityKind(entity)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unknown_entity", err.Error())
		return
	}

	jobID := uuid.New().String()
	logger := h.logger.With("job_id", jobID, "entity", kind)
	logger.Info("Received sync request")

	var payload any
	if kind == KindAll {
		payload = h.service.SyncAll(r.Context())
	} else {
		summary, err := h.service.Sync(r.Context(), kind)
		if err != nil {
			logger.Error("Sync request failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "sync_failed", err.Error())
			return
		}
		payload = summary
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode sync response", "error", err)
	}
}

// HandleHealth reports process liveness.
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
