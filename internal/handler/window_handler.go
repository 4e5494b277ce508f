package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// WindowHandler serves the shared-window routing flow: insertion checks,
// confirmed assignments and cancellations.
type WindowHandler struct {
	routing *service.RoutingEngine
	logger  *zap.SugaredLogger
}

// NewWindowHandler creates a new window handler.
func NewWindowHandler(routing *service.RoutingEngine, logger *zap.SugaredLogger) *WindowHandler {
	return &WindowHandler{routing: routing, logger: logger.Named("handler")}
}

// candidateFromRequest builds the routing candidate, taking the window id
// from the URL. A nil return means the 400 response is already written.
func (h *WindowHandler) candidateFromRequest(w http.ResponseWriter, r *http.Request) *service.WindowCandidate {
	var cand service.WindowCandidate
	if !decodeJSON(w, r, &cand) {
		return nil
	}
	cand.TimeWindowID = mux.Vars(r)["window_id"]
	if cand.RiderID == "" || cand.ServiceDate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "rider_id and service_date are required"})
		return nil
	}
	if !cand.Pickup.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "pickup coordinates are required"})
		return nil
	}
	return &cand
}

// CheckCandidate handles POST /api/v1/windows/{window_id}/check
//
//	Request body:
//	{
//	  "rider_id": "R1",
//	  "service_date": "2025-11-18",
//	  "pickup": {"lat": 49.83, "lng": -97.14}
//	}
//
// Always answers 200 with a decision; a rejection is a decision with
// accepted=false, a reason code and alternative windows, not an error.
func (h *WindowHandler) CheckCandidate(w http.ResponseWriter, r *http.Request) {
	cand := h.candidateFromRequest(w, r)
	if cand == nil {
		return
	}

	decision, err := h.routing.CanAddRiderToWindow(r.Context(), *cand)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// CreateAssignment handles POST /api/v1/windows/{window_id}/assignments
//
// Same body as CheckCandidate. Re-runs the insertion decision and, when
// accepted, confirms it against the plan under the row lock.
//
// Response codes:
//
//	201  — assignment confirmed (returns assignment + decision)
//	200  — rejected decision (accepted=false, reason, alternatives)
//	409  — plan changed between decision and write (PLAN_CHANGED_RETRY),
//	       or the rider already has a confirmed assignment (RIDER_CONFLICT)
func (h *WindowHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	cand := h.candidateFromRequest(w, r)
	if cand == nil {
		return
	}

	assignment, decision, err := h.routing.CreateWindowAssignment(r.Context(), *cand)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if assignment == nil {
		writeJSON(w, http.StatusOK, decision)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"assignment": assignment,
		"decision":   decision,
	})
}

// CancelAssignment handles POST /api/v1/assignments/{assignment_id}/cancel
//
// Removes the stop from the window's route plan, promoting the next stop
// to anchor when the anchor leaves.
func (h *WindowHandler) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := mux.Vars(r)["assignment_id"]

	if err := h.routing.CancelWindowAssignment(r.Context(), assignmentID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assignment_id": assignmentID, "status": "cancelled"})
}
