package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// AdminHandler serves the operations surface: the daily capacity view,
// slot catalog maintenance and capacity rebalancing.
type AdminHandler struct {
	admin   *service.AdminService
	catalog *service.SlotCatalog
	planner *service.CapacityPlanner
	logger  *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(admin *service.AdminService, catalog *service.SlotCatalog, planner *service.CapacityPlanner, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{admin: admin, catalog: catalog, planner: planner, logger: logger.Named("handler")}
}

// validDate enforces the YYYY-MM-DD service-date format.
func validDate(w http.ResponseWriter, date string) bool {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "date must be YYYY-MM-DD"})
		return false
	}
	return true
}

// GetCapacityView handles GET /api/v1/admin/capacity/{date}
//
// Returns the date's capacity envelope, scheduled rides, active holds,
// per-block usage and the latest completed simulation.
func (h *AdminHandler) GetCapacityView(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if !validDate(w, date) {
		return
	}

	view, err := h.admin.GetAdminCapacityView(r.Context(), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListSlots handles GET /api/v1/admin/slots?date=2025-11-18&direction=home_to_campus
//
// direction is optional; omitted means both directions.
func (h *AdminHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if !validDate(w, date) {
		return
	}
	direction := model.Direction(r.URL.Query().Get("direction"))

	slots, err := h.catalog.GetSlotsForDate(r.Context(), date, direction)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  date,
		"slots": slots,
	})
}

// InitializeSlots handles POST /api/v1/admin/slots/initialize
//
//	Request body: {"date": "2025-11-18"}
//
// Generates the date's slot grid in both directions. Re-running for an
// already initialized date creates nothing and is safe.
func (h *AdminHandler) InitializeSlots(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validDate(w, body.Date) {
		return
	}

	created, err := h.catalog.InitializeSlotsForDate(r.Context(), body.Date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    body.Date,
		"created": created,
	})
}

// SetFragility handles PUT /api/v1/admin/slots/{slot_id}/fragility
//
//	Request body: {"fragile": true}
//
// A fragile slot stops accepting new non-Premium holds; existing rides
// are untouched.
func (h *AdminHandler) SetFragility(w http.ResponseWriter, r *http.Request) {
	slotID := mux.Vars(r)["slot_id"]

	var body struct {
		Fragile bool `json:"fragile"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.catalog.SetSlotFragility(r.Context(), slotID, body.Fragile); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slot_id": slotID,
		"fragile": body.Fragile,
	})
}

// SetNonPremiumCap handles PUT /api/v1/admin/slots/{slot_id}/non-premium-cap
//
//	Request body: {"max_non_premium": 1}
//
// Lowering the cap never evicts booked riders; the effective cap floors
// at the currently used count.
func (h *AdminHandler) SetNonPremiumCap(w http.ResponseWriter, r *http.Request) {
	slotID := mux.Vars(r)["slot_id"]

	var body struct {
		MaxNonPremium int `json:"max_non_premium"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.MaxNonPremium < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "max_non_premium must be >= 0"})
		return
	}

	if err := h.catalog.UpdateSlotMaxNonPremium(r.Context(), slotID, body.MaxNonPremium); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slot_id":         slotID,
		"max_non_premium": body.MaxNonPremium,
	})
}

// Rebalance handles POST /api/v1/admin/capacity/{date}/rebalance
//
// Tightens non-Premium caps on the date's hot slots so the Premium
// on-time target holds. Returns the number of adjusted slots.
func (h *AdminHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if !validDate(w, date) {
		return
	}

	adjusted, err := h.planner.AutoBalanceNonPremiumCapacity(r.Context(), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":           date,
		"adjusted_slots": adjusted,
	})
}
