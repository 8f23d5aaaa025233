package handlers

import (
	"net/http"

	"github.com/osqr/memvault/internal/application/services"
	"github.com/osqr/memvault/internal/domain/models"
)

// VaultsHandler covers vault lifecycle and the conversation surface.
type VaultsHandler struct {
	registry *services.Registry
}

func NewVaultsHandler(registry *services.Registry) *VaultsHandler {
	return &VaultsHandler{registry: registry}
}

type initializeVaultRequest struct {
	UserID string                  `json:"user_id"`
	Config *services.VaultConfig  `json:"config,omitempty"`
}

// Create initializes a vault for a user.
func (h *VaultsHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[initializeVaultRequest](r, w)
	if !ok {
		return
	}

	vault, err := h.registry.InitializeVault(req.UserID, req.Config)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"user_id": vault.UserID(),
		"config":  vault.Config(),
	}, http.StatusCreated)
}

// Stats returns what the vault currently holds.
func (h *VaultsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := validateURLParam(r, w, "userID", "user id")
	if !ok {
		return
	}
	vault, err := h.registry.GetVault(userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	stats, err := vault.GetStats(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, stats, http.StatusOK)
}

func (h *VaultsHandler) vault(w http.ResponseWriter, r *http.Request) (*services.Vault, bool) {
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

type startSessionRequest struct {
	DeviceType string `json:"device_type"`
}

func (h *VaultsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[startSessionRequest](r, w)
	if !ok {
		return
	}

	sess, err := vault.StartSession(r.Context(), req.DeviceType)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, sess, http.StatusCreated)
}

type startConversationRequest struct {
	ProjectID string `json:"project_id,omitempty"`
}

func (h *VaultsHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[startConversationRequest](r, w)
	if !ok {
		return
	}

	conv, err := vault.StartConversation(r.Context(), req.ProjectID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, conv, http.StatusCreated)
}

type addMessageRequest struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
	Tokens  int                `json:"tokens,omitempty"`
}

func (h *VaultsHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[addMessageRequest](r, w)
	if !ok {
		return
	}

	msg, err := vault.AddMessage(r.Context(), req.Role, req.Content, req.Tokens)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, msg, http.StatusCreated)
}

func (h *VaultsHandler) GetFullHistory(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	history, err := vault.GetFullHistory(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"messages": history}, http.StatusOK)
}

func (h *VaultsHandler) GetWorkingWindow(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	window, err := vault.GetWorkingWindow(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, window, http.StatusOK)
}

func (h *VaultsHandler) SetWindowConfig(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[models.WindowConfig](r, w)
	if !ok {
		return
	}
	if err := vault.SetWindowConfig(*req); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *VaultsHandler) LoadConversation(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	conversationID, ok := validateURLParam(r, w, "conversationID", "conversation id")
	if !ok {
		return
	}
	loaded := vault.LoadConversation(r.Context(), conversationID)
	respondJSON(w, map[string]bool{"loaded": loaded}, http.StatusOK)
}

type endConversationRequest struct {
	SynthesizeImmediately bool `json:"synthesize_immediately,omitempty"`
}

func (h *VaultsHandler) EndConversation(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[endConversationRequest](r, w)
	if !ok {
		return
	}

	result, err := vault.EndConversation(r.Context(), req.SynthesizeImmediately)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, result, http.StatusOK)
}
