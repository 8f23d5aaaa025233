package handlers

import (
	"net/http"

	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/domain/models"
)

// PrivacyHandler covers the plugin gate, privacy settings, the audit log
// and the procedural surface.
type PrivacyHandler struct {
	registry   *services.Registry
	audit      *services.AuditService
	procedural *services.ProceduralService
}

func NewPrivacyHandler(registry *services.Registry, audit *services.AuditService, procedural *services.ProceduralService) *PrivacyHandler {
	return &PrivacyHandler{registry: registry, audit: audit, procedural: procedural}
}

func (h *PrivacyHandler) vault(w http.ResponseWriter, r *http.Request) (*services.Vault, bool) {
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

// PluginDataRequest runs a plugin's request through the privacy gate.
func (h *PrivacyHandler) PluginDataRequest(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[models.PluginDataRequest](r, w)
	if !ok {
		return
	}

	summary, err := vault.ProcessPluginDataRequest(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, summary, http.StatusOK)
}

// GetSettings returns a user's privacy settings.
func (h *PrivacyHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	respondJSON(w, vault.GetPrivacySettings(), http.StatusOK)
}

// UpdateSettings replaces a user's privacy settings.
func (h *PrivacyHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[models.PrivacySettings](r, w)
	if !ok {
		return
	}
	if err := vault.UpdatePrivacySettings(req); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, req, http.StatusOK)
}

// AccessLog returns a user's audit entries, newest first.
func (h *PrivacyHandler) AccessLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := validateURLParam(r, w, "userID", "user id")
	if !ok {
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	entries := h.audit.History(r.Context(), userID, limit)
	respondJSON(w, map[string]interface{}{"entries": entries}, http.StatusOK)
}

// GetMentorScript returns a user's mentor script for a project.
func (h *PrivacyHandler) GetMentorScript(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	script, err := vault.GetMentorScript(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, script, http.StatusOK)
}

type addMentorRuleRequest struct {
	ProjectID string            `json:"project_id,omitempty"`
	Text      string            `json:"text"`
	Source    models.RuleSource `json:"source,omitempty"`
	Priority  int               `json:"priority,omitempty"`
}

// AddMentorRule stores a behavioral rule in a mentor script.
func (h *PrivacyHandler) AddMentorRule(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[addMentorRuleRequest](r, w)
	if !ok {
		return
	}
	source := req.Source
	if source == "" {
		source = models.RuleSourceUserDefined
	}

	rule, err := vault.AddMentorRule(r.Context(), req.ProjectID, req.Text, source, req.Priority)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, rule, http.StatusCreated)
}

// GetBriefingScripts returns the live briefing scripts for a session.
func (h *PrivacyHandler) GetBriefingScripts(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, "invalid_request", "session_id is required", http.StatusBadRequest)
		return
	}
	respondJSON(w, map[string]interface{}{
		"scripts": vault.GetBriefingScripts(r.Context(), sessionID),
	}, http.StatusOK)
}
