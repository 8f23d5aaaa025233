package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/osqr/memvault/internal/application/services"
)

// AdminHandler covers the GDPR surface and the scheduler controls.
type AdminHandler struct {
	registry  *services.Registry
	export    *services.ExportService
	scheduler *services.Scheduler
}

func NewAdminHandler(registry *services.Registry, export *services.ExportService, scheduler *services.Scheduler) *AdminHandler {
	return &AdminHandler{registry: registry, export: export, scheduler: scheduler}
}

// Export streams a user's full data as a msgpack snapshot.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := validateURLParam(r, w, "userID", "user id")
	if !ok {
		return
	}

	payload, err := h.export.ExportUserData(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.Header().Set("Content-Disposition", `attachment; filename="memvault-export.msgpack"`)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// Import restores a previously exported snapshot.
func (h *AdminHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := validateURLParam(r, w, "userID", "user id")
	if !ok {
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64*1024*1024))
	if err != nil {
		respondError(w, "invalid_request", "failed to read payload", http.StatusBadRequest)
		return
	}

	restored, err := h.export.ImportUserData(r.Context(), userID, payload)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]int{"restored": restored}, http.StatusOK)
}

// DeleteUser removes every trace of a user.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := validateURLParam(r, w, "userID", "user id")
	if !ok {
		return
	}
	if err := h.registry.DeleteUserData(r.Context(), userID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

// SchedulerStatus reports whether the drivers are running.
func (h *AdminHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]bool{"running": h.scheduler.Running()}, http.StatusOK)
}

// StartScheduler launches the periodic drivers. The drivers must outlive
// this request, so they run under the background context.
func (h *AdminHandler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Start(context.Background())
	respondJSON(w, map[string]bool{"running": true}, http.StatusOK)
}

// StopScheduler stops the periodic drivers.
func (h *AdminHandler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	respondJSON(w, map[string]bool{"running": false}, http.StatusOK)
}

// TriggerSynthesis drains the synthesis queue once, on demand.
func (h *AdminHandler) TriggerSynthesis(w http.ResponseWriter, r *http.Request) {
	h.scheduler.RunSynthesis(r.Context())
	respondJSON(w, map[string]string{"status": "triggered"}, http.StatusOK)
}

// TriggerUtilityUpdate runs the utility batch once, on demand.
func (h *AdminHandler) TriggerUtilityUpdate(w http.ResponseWriter, r *http.Request) {
	h.scheduler.RunUtilityUpdate(r.Context())
	respondJSON(w, map[string]string{"status": "triggered"}, http.StatusOK)
}

// TriggerOrphanCheck runs the orphan sweep once, on demand.
func (h *AdminHandler) TriggerOrphanCheck(w http.ResponseWriter, r *http.Request) {
	h.scheduler.RunOrphanSweep(r.Context())
	respondJSON(w, map[string]string{"status": "triggered"}, http.StatusOK)
}
