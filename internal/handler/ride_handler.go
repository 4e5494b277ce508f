package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// RideHandler serves scheduled-ride reads and terminal transitions.
type RideHandler struct {
	holds  *service.HoldManager
	logger *zap.SugaredLogger
}

// NewRideHandler creates a new ride handler.
func NewRideHandler(holds *service.HoldManager, logger *zap.SugaredLogger) *RideHandler {
	return &RideHandler{holds: holds, logger: logger.Named("handler")}
}

// GetRide handles GET /api/v1/rides/{ride_id}
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.holds.GetRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// CancelRide handles POST /api/v1/rides/{ride_id}/cancel
//
//	Request body (optional): {"by_admin": true}
//
// Releases the seat the ride was occupying. Cancelling an already
// cancelled ride is a no-op success.
func (h *RideHandler) CancelRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]

	var body struct {
		ByAdmin bool `json:"by_admin"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &body) {
		return
	}

	if err := h.holds.CancelScheduledRide(r.Context(), rideID, body.ByAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ride_id": rideID, "status": "cancelled"})
}

// CompleteRide handles POST /api/v1/rides/{ride_id}/complete
//
//	Request body: {"delay_minutes": 1.5}
//
// Records the observed arrival delay into the rider's behavior history.
func (h *RideHandler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]

	var body struct {
		DelayMinutes float64 `json:"delay_minutes"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &body) {
		return
	}
	if body.DelayMinutes < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "delay_minutes must be >= 0"})
		return
	}

	if err := h.holds.CompleteRide(r.Context(), rideID, body.DelayMinutes); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ride_id": rideID, "status": "completed"})
}

// MarkNoShow handles POST /api/v1/rides/{ride_id}/no-show
func (h *RideHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]

	if err := h.holds.MarkNoShow(r.Context(), rideID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ride_id": rideID, "status": "no_show"})
}
