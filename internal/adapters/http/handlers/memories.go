package handlers

import (
	"net/http"

	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/domain/models"
)

// MemoriesHandler covers retrieval, search and outcome recording.
type MemoriesHandler struct {
	registry *services.Registry
}

func NewMemoriesHandler(registry *services.Registry) *MemoriesHandler {
	return &MemoriesHandler{registry: registry}
}

func (h *MemoriesHandler) vault(w http.ResponseWriter, r *http.Request) (*services.Vault, bool) {
	userID, ok := validateURLParam(r, w, "userID", "user id")
	if !ok {
		return nil, false
	}
	vault, err := h.registry.GetVault(userID)
	if err != nil {
		respondDomainError(w, err)
		return nil, false
	}
	return vault, true
}

type retrieveRequest struct {
	Query   string                    `json:"query"`
	Options services.RetrievalOptions `json:"options,omitempty"`
}

// Retrieve runs the full retrieval pipeline for a query.
func (h *MemoriesHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[retrieveRequest](r, w)
	if !ok {
		return
	}

	result, err := vault.RetrieveContext(r.Context(), req.Query, req.Options)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// Search runs the hybrid semantic/substring search.
func (h *MemoriesHandler) Search(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[retrieveRequest](r, w)
	if !ok {
		return
	}

	result, err := vault.SearchMemories(r.Context(), req.Query, req.Options)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

type recordOutcomeRequest struct {
	MemoryID       string         `json:"memory_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Outcome        models.Outcome `json:"outcome"`
	Context        string         `json:"context,omitempty"`
}

// RecordOutcome reports what happened to a retrieved memory downstream.
func (h *MemoriesHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[recordOutcomeRequest](r, w)
	if !ok {
		return
	}

	if err := vault.RecordOutcome(r.Context(), req.MemoryID, req.ConversationID, req.Outcome, req.Context); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "recorded"}, http.StatusOK)
}

type crossProjectRequest struct {
	Query                string   `json:"query"`
	ProjectIDs           []string `json:"project_ids,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	DetectContradictions bool     `json:"detect_contradictions,omitempty"`
}

// QueryCrossProject answers a query spanning the user's projects.
func (h *MemoriesHandler) QueryCrossProject(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[crossProjectRequest](r, w)
	if !ok {
		return
	}

	result, err := vault.QueryCrossProject(r.Context(), services.CrossProjectQuery{
		Query:                req.Query,
		ProjectIDs:           req.ProjectIDs,
		Limit:                req.Limit,
		DetectContradictions: req.DetectContradictions,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, result, http.StatusOK)
}
