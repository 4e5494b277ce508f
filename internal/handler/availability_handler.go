package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// AvailabilityHandler serves the pre-validated slot search.
type AvailabilityHandler struct {
	availability *service.AvailabilityService
	logger       *zap.SugaredLogger
}

// NewAvailabilityHandler creates a new availability handler.
func NewAvailabilityHandler(availability *service.AvailabilityService, logger *zap.SugaredLogger) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, logger: logger.Named("handler")}
}

type availabilitySearchBody struct {
	service.AvailabilityQuery
	RiderID string `json:"rider_id,omitempty"`
}

// Search handles POST /api/v1/availability/search
//
//	Request body:
//	{
//	  "date": "2025-11-18",
//	  "origin": {"lat": 49.83, "lng": -97.14},
//	  "destination": {"lat": 49.8075, "lng": -97.1325},
//	  "plan_type": "premium",
//	  "desired_arrival": "08:30",
//	  "rider_id": "R1"
//	}
//
// rider_id is optional; when present, windows colliding with the rider's
// existing rides are removed.
func (h *AvailabilityHandler) Search(w http.ResponseWriter, r *http.Request) {
	var body availabilitySearchBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Date == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "date is required"})
		return
	}
	if !body.Origin.Valid() || !body.Destination.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "origin and destination coordinates are required"})
		return
	}

	var windows []service.ArrivalWindow
	var err error
	if body.RiderID != "" {
		windows, err = h.availability.GetAvailableWindowsForRider(r.Context(), body.RiderID, body.AvailabilityQuery)
	} else {
		windows, err = h.availability.GetAvailableArrivalWindows(r.Context(), body.AvailabilityQuery)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    body.Date,
		"windows": windows,
	})
}
