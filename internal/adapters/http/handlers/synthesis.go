package handlers

import (
	"net/http"

	"github.com/osqr/memvault/internal/application/services"
)

// SynthesisHandler covers manual synthesis, the reflection passes and job
// inspection.
type SynthesisHandler struct {
	registry *services.Registry
	queue    *services.SynthesisQueue
}

func NewSynthesisHandler(registry *services.Registry, queue *services.SynthesisQueue) *SynthesisHandler {
	return &SynthesisHandler{registry: registry, queue: queue}
}

func (h *SynthesisHandler) vault(w http.ResponseWriter, r *http.Request) (*services.Vault, bool) {
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

// Synthesize runs synthesis for one conversation immediately.
func (h *SynthesisHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	conversationID, ok := validateURLParam(r, w, "conversationID", "conversation id")
	if !ok {
		return
	}

	result, err := vault.SynthesizeConversation(r.Context(), conversationID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// ProspectiveReflection synthesizes every pending conversation of a user.
func (h *SynthesisHandler) ProspectiveReflection(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	results, err := vault.RunProspectiveReflection(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"results": results}, http.StatusOK)
}

// RetrospectiveReflection runs the Bayesian utility batch for a user.
func (h *SynthesisHandler) RetrospectiveReflection(w http.ResponseWriter, r *http.Request) {
	vault, ok := h.vault(w, r)
	if !ok {
		return
	}
	if err := vault.RunRetrospectiveReflection(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "updated"}, http.StatusOK)
}

// GetJob returns the state of one synthesis job.
func (h *SynthesisHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := validateURLParam(r, w, "jobID", "job id")
	if !ok {
		return
	}
	job, err := h.queue.GetJob(jobID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, job, http.StatusOK)
}

// QueueStatus reports the queue depth.
func (h *SynthesisHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]int{"depth": h.queue.Depth()}, http.StatusOK)
}
