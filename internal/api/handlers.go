package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
	"gas-monitor/internal/services"
)

// Controller is the part of the prediction loop driven over HTTP
type Controller interface {
	Start(ctx context.Context) bool
	Stop() bool
	Snapshot() services.Snapshot
	Recent(n int) []models.ClassifiedEvent
}

// Predictor classifies a manual entry
type Predictor interface {
	Predict(ctx context.Context, temperature, humidity, gasPPM float64) (services.Prediction, error)
}

type Handlers struct {
	// ctx bounds loop sessions started over HTTP; a request context would
	// end the session as soon as the response is written.
	ctx       context.Context
	loop      Controller
	predictor Predictor
	checks    []healthCheck
	log       *logrus.Entry
}

type healthCheck struct {
	name string
	ok   func() bool
}

func NewHandlers(ctx context.Context, loop Controller, predictor Predictor, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		ctx:       ctx,
		loop:      loop,
		predictor: predictor,
		log:       logging.Component(logger, "api"),
	}
}

// AddCheck adds a dependency to /health. A failing check turns the response
// into 503 with status "degraded".
func (h *Handlers) AddCheck(name string, ok func() bool) {
	h.checks = append(h.checks, healthCheck{name: name, ok: ok})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type statusResponse struct {
	Running         bool                    `json:"running"`
	SessionID       string                  `json:"session_id,omitempty"`
	LastSeenEntryID string                  `json:"last_seen_entry_id,omitempty"`
	HistorySize     int                     `json:"history_size"`
	Capacity        int                     `json:"capacity"`
	Latest          *models.ClassifiedEvent `json:"latest,omitempty"`
}

type controlResponse struct {
	Changed bool `json:"changed"`
	Running bool `json:"running"`
}

type predictRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	GasPPM      *float64 `json:"gas_ppm"`
}

type predictResponse struct {
	models.ClassifiedEvent
	AlertError string `json:"alert_error,omitempty"`
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	for _, c := range h.checks {
		if resp.Components == nil {
			resp.Components = make(map[string]string, len(h.checks))
		}
		if c.ok() {
			resp.Components[c.name] = "ok"
			continue
		}
		resp.Components[c.name] = "down"
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *Handlers) autoStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.loop.Snapshot()
	resp := statusResponse{
		Running:         snap.Running,
		SessionID:       snap.SessionID,
		LastSeenEntryID: snap.LastSeenEntryID,
		HistorySize:     len(snap.Events),
		Capacity:        snap.Capacity,
	}
	if ev, ok := snap.Latest(); ok {
		resp.Latest = &ev
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) autoStart(w http.ResponseWriter, r *http.Request) {
	changed := h.loop.Start(h.ctx)
	h.log.WithField("changed", changed).Info("API: start requested")
	writeJSON(w, http.StatusOK, controlResponse{Changed: changed, Running: h.loop.Snapshot().Running})
}

func (h *Handlers) autoStop(w http.ResponseWriter, r *http.Request) {
	changed := h.loop.Stop()
	h.log.WithField("changed", changed).Info("API: stop requested")
	writeJSON(w, http.StatusOK, controlResponse{Changed: changed, Running: h.loop.Snapshot().Running})
}

// autoHistory returns the history oldest first. ?limit=n keeps the newest n.
func (h *Handlers) autoHistory(w http.ResponseWriter, r *http.Request) {
	var events []models.ClassifiedEvent
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		events = h.loop.Recent(n)
	} else {
		events = h.loop.Snapshot().Events
	}
	if events == nil {
		events = []models.ClassifiedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	if req.Temperature == nil || req.Humidity == nil || req.GasPPM == nil {
		h.badRequest(w, "temperature, humidity and gas_ppm are required")
		return
	}

	p, err := h.predictor.Predict(r.Context(), *req.Temperature, *req.Humidity, *req.GasPPM)
	if err != nil {
		var verr *services.ValidationError
		if errors.Is(err, services.ErrAllZero) || errors.As(err, &verr) {
			h.badRequest(w, err.Error())
			return
		}
		h.log.WithError(err).Error("API: manual prediction failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "prediction failed"})
		return
	}

	resp := predictResponse{ClassifiedEvent: p.Event}
	if p.AlertErr != nil {
		resp.AlertError = p.AlertErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) badRequest(w http.ResponseWriter, msg string) {
	h.log.WithField("error", msg).Warn("API: bad request")
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
