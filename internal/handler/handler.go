// Package handler exposes the scheduling core over HTTP: availability
// search, the hold lifecycle, shared-window assignments, simulations and
// the admin capacity surface.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON parses the request body into dst. A false return means the
// 400 response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "BAD_REQUEST",
			"message": "invalid JSON body",
		})
		return false
	}
	return true
}

// writeError maps a core error onto an HTTP response. The body always
// carries the closed-enum code so clients can switch on it without
// parsing messages.
func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		logger.Errorw("unclassified error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   service.CodeInternal,
			"message": "internal error",
		})
		return
	}

	status := statusFor(svcErr)
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "code", svcErr.Code, "error", err)
	}

	msg := svcErr.Message
	if msg == "" {
		msg = svcErr.Error()
	}
	body := map[string]interface{}{
		"error":   svcErr.Code,
		"message": msg,
	}
	if len(svcErr.Details) > 0 {
		body["details"] = svcErr.Details
	}
	writeJSON(w, status, body)
}

// statusFor maps the closed error enum onto HTTP statuses. State codes
// get specific statuses; the remaining codes map by kind.
func statusFor(e *service.Error) int {
	switch e.Code {
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeExpired:
		return http.StatusGone
	case service.CodeWrongStatus, service.CodeDupActiveHold,
		service.CodeRiderConflict, service.CodePlanChangedRetry:
		return http.StatusConflict
	}
	switch e.Kind {
	case service.KindCapacity, service.KindFeasibility:
		return http.StatusUnprocessableEntity
	case service.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
