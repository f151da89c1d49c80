// Package api provides HTTP handlers for the FaaS control plane: a thin
// collaborator translating HTTP requests into internal/store and
// internal/engine calls and their results back into JSON.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vortex/faas-engine/internal/engine"
	"github.com/vortex/faas-engine/internal/quota"
	"github.com/vortex/faas-engine/internal/store"
)

// Handler holds dependencies for the API handlers.
type Handler struct {
	Store  *store.BlobStore
	Quota  quota.Store
	Engine *engine.Engine
	Log    zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(s *store.BlobStore, q quota.Store, e *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Store:  s,
		Quota:  q,
		Engine: e,
		Log:    log,
	}
}

// RegisterRoutes sets up the API routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/deploy", h.HandleDeploy)
	r.Post("/execute/{functionID}", h.HandleExecute)
	r.Get("/health", h.HandleHealth)
}

// DeployRequest is the request body for POST /deploy.
type DeployRequest struct {
	OwnerID string `json:"owner_id"`
	Code    string `json:"code"`
}

// DeployResponse is the response body for POST /deploy.
type DeployResponse struct {
	FunctionID string `json:"function_id"`
}

// HandleDeploy handles POST /deploy: validates the request, generates a
// function ID, and persists the function record in the blob store.
func (h *Handler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(h.Log, w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	if req.Code == "" {
		WriteError(h.Log, w, http.StatusBadRequest, "code cannot be empty", nil)
		return
	}
	if req.OwnerID == "" {
		WriteError(h.Log, w, http.StatusBadRequest, "owner_id is required", nil)
		return
	}

	functionID := uuid.New().String()
	rec := store.FunctionRecord{
		ID:         functionID,
		OwnerID:    req.OwnerID,
		SourceCode: req.Code,
		Enabled:    true,
		CreatedAt:  time.Now(),
	}

	if err := h.Store.SaveFunction(ctx, rec); err != nil {
		WriteError(h.Log, w, http.StatusInternalServerError, "failed to store function", err)
		return
	}

	// Quota row is created on first user deploy (spec.md §3); idempotent,
	// so redeploys by an existing owner leave their counters untouched.
	if err := h.Quota.Init(ctx, req.OwnerID); err != nil {
		WriteError(h.Log, w, http.StatusInternalServerError, "failed to initialize quota", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, DeployResponse{FunctionID: functionID}); err != nil {
		h.Log.Error().Err(err).Msg("failed to encode deploy response")
	}
	h.Log.Info().Str("function_id", functionID).Str("owner_id", req.OwnerID).Int("bytes", len(req.Code)).Msg("deployed function")
}

// ExecuteRequest is the request body for POST /execute/{functionID}.
type ExecuteRequest struct {
	Input interface{} `json:"input"`
}

// ExecuteResponse is spec.md §3's ExecutionResult rendered as JSON.
type ExecuteResponse struct {
	Status    string  `json:"status"`
	Output    *string `json:"output"`
	Error     *string `json:"error"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// HandleExecute handles POST /execute/{functionID}: loads the function
// record and runs it through the Engine Orchestrator.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	functionID := chi.URLParam(r, "functionID")
	if functionID == "" {
		WriteError(h.Log, w, http.StatusBadRequest, "missing function_id", nil)
		return
	}

	var req ExecuteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(h.Log, w, http.StatusBadRequest, "invalid JSON body", err)
			return
		}
	}

	exists, err := h.Store.FunctionExists(ctx, functionID)
	if err != nil {
		WriteError(h.Log, w, http.StatusInternalServerError, "failed to check function", err)
		return
	}
	if !exists {
		WriteError(h.Log, w, http.StatusNotFound, "function not found", nil)
		return
	}

	rec, err := h.Store.GetFunction(ctx, functionID)
	if err != nil {
		WriteError(h.Log, w, http.StatusInternalServerError, "failed to retrieve function", err)
		return
	}
	if !rec.Enabled {
		WriteError(h.Log, w, http.StatusForbidden, "function is disabled", nil)
		return
	}

	result := h.Engine.Execute(ctx, engine.ExecutionRequest{
		FunctionID: functionID,
		OwnerID:    rec.OwnerID,
		SourceCode: rec.SourceCode,
		Input:      req.Input,
	})

	if err := WriteJSON(w, http.StatusOK, ExecuteResponse{
		Status:    result.Status,
		Output:    result.Output,
		Error:     result.Error,
		ElapsedMs: result.ElapsedMs,
	}); err != nil {
		h.Log.Error().Err(err).Msg("failed to encode execute response")
	}
	h.Log.Info().Str("function_id", functionID).Str("status", result.Status).Int64("elapsed_ms", result.ElapsedMs).Msg("executed function")
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status               string `json:"status"`
	CurrentInstanceCount int64  `json:"current_instance_count"`
	MaxInstances         int64  `json:"max_instances"`
}

// HandleHealth returns the health status of the server.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, HealthResponse{
		Status:               "healthy",
		CurrentInstanceCount: h.Engine.CurrentInstanceCount(),
		MaxInstances:         h.Engine.MaxInstances(),
	}); err != nil {
		h.Log.Error().Err(err).Msg("failed to encode health response")
	}
}

