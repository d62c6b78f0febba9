// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// maxErrorReasonsInResponse bounds the human-readable error list in migrate
// responses; the full counts are always present in the summary.
const maxErrorReasonsInResponse = 25

// HTTPHandlers provides the operator-facing HTTP API for the reconciliation
// engine: check-sync and migrate, per entity type or across all of them.
// Every response is JSON and every endpoint is safe to retry.
type HTTPHandlers struct {
	orch   *Orchestrator
	auth   OperatorAuthenticator
	logger *slog.Logger

	AppName string
	// Probes report store reachability for the status endpoint, keyed by a
	// display name ("blob", "relational").
	Probes map[string]func(r *http.Request) error
}

// NewHTTPHandlers creates a new instance of reconciliation handlers
func NewHTTPHandlers(orch *Orchestrator, auth OperatorAuthenticator, logger *slog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		orch:   orch,
		auth:   auth,
		logger: logger,
		Probes: map[string]func(r *http.Request) error{},
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type checkResponse struct {
	Success bool     `json:"success"`
	Data    any      `json:"data"`
	Summary *Summary `json:"summary,omitempty"`
}

type migrateSummary struct {
	Migrated           int `json:"migrated"`
	Skipped            int `json:"skipped"`
	Errors             int `json:"errors"`
	TotalInTargetAfter int `json:"totalInTargetAfter"`
}

type migrateResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Summary migrateSummary `json:"summary"`
	Errors  []string       `json:"errors,omitempty"`
}

// HandleCheckSync serves GET check-sync. With ?type= it checks one entity
// type (optionally narrowed with &scope=); without it, all registered types.
// A single entity type's store outage degrades that report, it is not a 5xx;
// only total failure is.
func (h *HTTPHandlers) HandleCheckSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "only GET method is allowed")
		return
	}
	operatorID, err := h.auth.GetOperatorID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	typeParam := r.URL.Query().Get("type")
	scope := CanonicalID(strings.TrimSpace(r.URL.Query().Get("scope")))

	if typeParam != "" {
		t, err := ParseEntityType(typeParam)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		report, err := h.orch.Check(r.Context(), t, scope)
		if err != nil {
			h.logger.Error("Check failed", "entity_type", t, "operator_id", operatorID, "error", err)
			h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("check failed for %s", t))
			return
		}
		h.writeJSON(w, http.StatusOK, checkResponse{Success: true, Data: report})
		return
	}

	run := h.orch.NewRun()
	reports, err := run.Check(r.Context(), nil)
	if err != nil {
		h.logger.Error("Check all failed", "operator_id", operatorID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "check failed")
		return
	}
	h.writeJSON(w, http.StatusOK, checkResponse{
		Success: true,
		Data:    reports,
		Summary: Aggregate(reports),
	})
}

// HandleMigrateType serves POST migrate/{type}?ids=a,b,c. The id list is the
// operator's explicit selection from a prior check; a selected parent id also
// pulls in its missing children so the family migrates transitively, parent
// first.
func (h *HTTPHandlers) HandleMigrateType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	operatorID, err := h.auth.GetOperatorID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	t, err := ParseEntityType(r.PathValue("type"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := parseIDList(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	h.logger.Info("Migration requested", "entity_type", t, "ids", len(ids), "operator_id", operatorID)

	run := h.orch.NewRun()
	reports, err := run.Check(r.Context(), []EntityType{t})
	if err != nil {
		h.logger.Error("Pre-migration check failed", "entity_type", t, "error", err)
		h.writeError(w, http.StatusInternalServerError, "pre-migration check failed")
		return
	}
	selection := ExpandSelection(reports, map[EntityType][]CanonicalID{t: ids})

	results, verified, err := run.Migrate(r.Context(), selection)
	if err != nil {
		h.logger.Error("Migration failed", "entity_type", t, "error", err)
		h.writeError(w, http.StatusInternalServerError, "migration failed")
		return
	}

	resp := buildMigrateResponse(results, verified)
	h.writeJSON(w, http.StatusOK, resp)
}

type migrateAllRequest struct {
	Types []string `json:"types"`
}

// HandleMigrateAll serves POST migrate with JSON body {"types": [...]}. For
// each requested type it re-derives the missing set with a fresh check and
// migrates exactly that: stale reports never drive writes.
func (h *HTTPHandlers) HandleMigrateAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	operatorID, err := h.auth.GetOperatorID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req migrateAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to parse request body")
		return
	}
	if len(req.Types) == 0 {
		h.writeError(w, http.StatusBadRequest, "types list is required")
		return
	}
	types := make([]EntityType, 0, len(req.Types))
	for _, s := range req.Types {
		t, err := ParseEntityType(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		types = append(types, t)
	}

	h.logger.Info("Migration requested for types", "types", req.Types, "operator_id", operatorID)

	run := h.orch.NewRun()
	if _, err := run.Check(r.Context(), types); err != nil {
		h.logger.Error("Pre-migration check failed", "types", req.Types, "error", err)
		h.writeError(w, http.StatusInternalServerError, "pre-migration check failed")
		return
	}
	selection, err := run.SuggestSelection()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results, verified, err := run.Migrate(r.Context(), selection)
	if err != nil {
		h.logger.Error("Migration failed", "types", req.Types, "error", err)
		h.writeError(w, http.StatusInternalServerError, "migration failed")
		return
	}

	resp := buildMigrateResponse(results, verified)
	h.writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Success     bool              `json:"success"`
	AppName     string            `json:"app_name"`
	EntityTypes []EntityType      `json:"entity_types"`
	Stores      map[string]string `json:"stores"`
}

// HandleStatus reports the registered entity types and store reachability.
func (h *HTTPHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "only GET method is allowed")
		return
	}
	if _, err := h.auth.GetOperatorID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	stores := make(map[string]string, len(h.Probes))
	for name, probe := range h.Probes {
		if err := probe(r); err != nil {
			stores[name] = "unreachable: " + err.Error()
		} else {
			stores[name] = "ok"
		}
	}
	h.writeJSON(w, http.StatusOK, statusResponse{
		Success:     true,
		AppName:     h.AppName,
		EntityTypes: h.orch.EntityTypes(),
		Stores:      stores,
	})
}

func buildMigrateResponse(results map[EntityType]*MigrationResult, verified map[EntityType]*SyncReport) migrateResponse {
	var sum migrateSummary
	var reasons []string
	for _, res := range results {
		sum.Migrated += len(res.Migrated)
		sum.Skipped += len(res.Skipped)
		sum.Errors += len(res.Errors)
		for _, re := range res.Errors {
			if len(reasons) < maxErrorReasonsInResponse {
				reasons = append(reasons, fmt.Sprintf("%s %s: %s", res.EntityType, re.ID, re.Reason))
			}
		}
	}
	for _, rep := range verified {
		if !rep.Unavailable {
			sum.TotalInTargetAfter += rep.CountInTarget
		}
	}
	msg := fmt.Sprintf("migrated %d, skipped %d, errors %d", sum.Migrated, sum.Skipped, sum.Errors)
	return migrateResponse{Success: true, Message: msg, Summary: sum, Errors: reasons}
}

func parseIDList(raw string) []CanonicalID {
	var ids []CanonicalID
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, CanonicalID(part))
		}
	}
	return ids
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, errorResponse{Success: false, Error: message})
	h.logger.Debug("HTTP error response", "status_code", statusCode, "message", message)
}
