package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// SimulationHandler exposes the Monte Carlo validator: fire-and-poll jobs
// for the admin UI plus a synchronous endpoint for small ad-hoc batches.
type SimulationHandler struct {
	simulator *service.MonteCarloSimulator
	logger    *zap.SugaredLogger
}

// NewSimulationHandler creates a new simulation handler.
func NewSimulationHandler(simulator *service.MonteCarloSimulator, logger *zap.SugaredLogger) *SimulationHandler {
	return &SimulationHandler{simulator: simulator, logger: logger.Named("handler")}
}

type simulationBody struct {
	Date     string           `json:"date"`
	Scenario service.Scenario `json:"scenario"`
	Runs     int              `json:"runs"`
}

func (h *SimulationHandler) parseBody(w http.ResponseWriter, r *http.Request) (simulationBody, bool) {
	var body simulationBody
	if !decodeJSON(w, r, &body) {
		return body, false
	}
	if body.Date == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "date is required"})
		return body, false
	}
	if body.Runs < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "BAD_REQUEST", "message": "runs must be >= 0"})
		return body, false
	}
	return body, true
}

// StartSimulation handles POST /api/v1/simulations
//
//	Request body:
//	{
//	  "date": "2025-11-18",
//	  "scenario": {"name": "snowstorm", "traffic_variance": "high",
//	               "rider_variance": "high", "weather": "snow"},
//	  "runs": 1000
//	}
//
// Registers the job and returns 202 immediately; the batch runs in the
// background. Poll GET /simulations/{job_id} for the result. An omitted
// scenario falls back to the baseline; runs=0 uses the configured default.
func (h *SimulationHandler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	body, ok := h.parseBody(w, r)
	if !ok {
		return
	}

	job, err := h.simulator.RunAndSaveSimulation(r.Context(), body.Date, body.Scenario, body.Runs)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// RunSimulation handles POST /api/v1/simulations/run
//
// Same body as StartSimulation, but blocks until the batch finishes and
// returns the summary directly. Meant for small run counts.
func (h *SimulationHandler) RunSimulation(w http.ResponseWriter, r *http.Request) {
	body, ok := h.parseBody(w, r)
	if !ok {
		return
	}

	summary, err := h.simulator.RunSimulation(r.Context(), body.Date, body.Scenario, body.Runs)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetJob handles GET /api/v1/simulations/{job_id}
func (h *SimulationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.simulator.GetSimulationJob(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
