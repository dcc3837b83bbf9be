package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/repository"
	"github.com/skyload/skyload-api/internal/workflow"
)

type WorkflowHandler struct {
	orch   *workflow.Orchestrator
	repo   repository.WorkflowRepository
	logger zerolog.Logger
}

func NewWorkflowHandler(orch *workflow.Orchestrator, repo repository.WorkflowRepository, logger zerolog.Logger) *WorkflowHandler {
	return &WorkflowHandler{orch: orch, repo: repo, logger: logger.With().Str("handler", "workflow").Logger()}
}

type runRequest struct {
	File             models.FileDescriptor `json:"file"`
	UserRequirements string                `json:"user_requirements"`
}

// Run launches a workflow and returns immediately; the run proceeds in
// the background and is observable through the workflow endpoints.
func (h *WorkflowHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.File.StorageLocator == "" {
		writeError(w, http.StatusBadRequest, "file.storage_locator is required")
		return
	}
	if req.File.OriginalName == "" {
		req.File.OriginalName = lastPathSegment(req.File.StorageLocator)
	}

	rec := h.orch.NewRun(req.File, req.UserRequirements)

	// The request context dies with the response; the run must not.
	go h.orch.Run(context.Background(), rec)

	h.logger.Info().Str("workflow_id", rec.WorkflowID).Str("file", req.File.OriginalName).Msg("Workflow accepted")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": rec.WorkflowID,
		"status":      rec.Status,
	})
}

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflowID"]

	rec, err := h.repo.Get(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := h.repo.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list workflows")
		writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	if recs == nil {
		recs = []*models.WorkflowRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func lastPathSegment(locator string) string {
	if i := strings.LastIndexAny(locator, "/\\"); i >= 0 {
		return locator[i+1:]
	}
	return locator
}
