package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/aggregator"
	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
	"github.com/greenflowstack/greenflow-engine/internal/engine"
	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// Service is the surface the transport layer needs from the core. Satisfied
// by services.TelemetryService.
type Service interface {
	Ingest(ctx context.Context, sample models.Sample) error
	CurrentRisk() models.RiskScore
	CurrentForecast() models.ForecastResult
	Simulate(req models.SimulationRequest) (models.SimulationResult, error)
	RecentAlerts(limit int) []models.Alert
	Subscribe() *dispatch.Subscription
	Unsubscribe(sub *dispatch.Subscription)
}

type handler struct {
	logger *slog.Logger
	svc    Service
}

// NewRouter builds the HTTP routing table for the engine's API.
func NewRouter(logger *slog.Logger, svc Service) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{logger: logger, svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/telemetry", h.handleIngest)
	mux.HandleFunc("GET /api/v1/risk", h.handleRisk)
	mux.HandleFunc("GET /api/v1/forecast", h.handleForecast)
	mux.HandleFunc("POST /api/v1/simulate", h.handleSimulate)
	mux.HandleFunc("GET /api/v1/alerts", h.handleAlerts)
	mux.HandleFunc("GET /api/v1/stream", h.handleStream)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var sample models.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	if err := h.svc.Ingest(r.Context(), sample); err != nil {
		var invalid *aggregator.InvalidSampleError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.logger.Error("ingest failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *handler) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CurrentRisk())
}

func (h *handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CurrentForecast())
}

func (h *handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req models.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := h.svc.Simulate(req)
	if err != nil {
		var invalid *engine.InvalidInterventionError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.logger.Error("simulation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "simulation failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	alerts := h.svc.RecentAlerts(limit)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
