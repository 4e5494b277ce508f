package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// HoldHandler drives the hold lifecycle over HTTP.
type HoldHandler struct {
	holds  *service.HoldManager
	logger *zap.SugaredLogger
}

// NewHoldHandler creates a new hold handler.
func NewHoldHandler(holds *service.HoldManager, logger *zap.SugaredLogger) *HoldHandler {
	return &HoldHandler{holds: holds, logger: logger.Named("handler")}
}

type createHoldBody struct {
	SlotID string `json:"slot_id"`
	service.HoldRequest
}

// CreateHold handles POST /api/v1/holds
//
//	Request body:
//	{
//	  "slot_id": "2025-11-18_home_to_campus_0830",
//	  "rider_id": "R1",
//	  "plan_type": "premium",
//	  "origin": {"lat": 49.83, "lng": -97.14},
//	  "destination": {"lat": 49.8075, "lng": -97.1325}
//	}
//
// Response codes:
//
//	201  — seat held for five minutes (returns the hold)
//	409  — rider already holds a seat (DUP_ACTIVE_HOLD)
//	422  — capacity or feasibility rejection (NO_CAPACITY, PEAK_CLOSED, ...)
func (h *HoldHandler) CreateHold(w http.ResponseWriter, r *http.Request) {
	var body createHoldBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.SlotID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "slot_id is required"})
		return
	}

	hold, err := h.holds.CreateHold(r.Context(), body.SlotID, body.HoldRequest)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

// GetHold handles GET /api/v1/holds/{hold_id}
func (h *HoldHandler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.holds.GetHold(r.Context(), mux.Vars(r)["hold_id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// ConfirmHold handles POST /api/v1/holds/{hold_id}/confirm
//
// Turns an active, unexpired hold into a scheduled ride. The seat stays
// consumed; it just stops being reclaimable by the expiry sweep.
//
// Response codes:
//
//	200  — ride scheduled (returns the ride)
//	404  — no such hold
//	409  — hold already confirmed, cancelled or expired
//	410  — hold expired before confirmation
func (h *HoldHandler) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	ride, err := h.holds.ConfirmHold(r.Context(), mux.Vars(r)["hold_id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// CancelHold handles POST /api/v1/holds/{hold_id}/cancel
//
// Cancelling an already cancelled or expired hold is a no-op success, so
// clients can retry freely.
func (h *HoldHandler) CancelHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.holds.CancelHold(r.Context(), mux.Vars(r)["hold_id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}
