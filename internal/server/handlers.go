package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"titanic-predictor/internal/features"
	"titanic-predictor/internal/inference"
)

const maxBodyBytes = 1 << 16

// PredictResponse is the /predict success body.
type PredictResponse struct {
	*inference.Result
	RequestID string `json:"request_id"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := RequestID(r.Context())
	m := s.current.Load()

	if !m.svc.Available() {
		s.metrics.ObserveUnavailable()
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: inference.ErrModelUnavailable.Error(), RequestID: reqID})
		return
	}

	var req inference.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.metrics.ObserveInvalidInput("")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid JSON body: %v", err), RequestID: reqID})
		return
	}
	// The record keys the cache; Predict repeats the presence check.
	rec, err := req.Record()
	if err != nil {
		s.rejectInput(w, err, reqID)
		return
	}
	rec = rec.Normalize()

	if m.cache != nil {
		if res, ok := m.cache.Get(rec); ok {
			s.metrics.ObserveCache(true)
			s.metrics.ObservePrediction(res.Label, res.Confidence, time.Since(start))
			s.observeDrift(m, res.Input)
			writeJSON(w, http.StatusOK, PredictResponse{Result: res, RequestID: reqID})
			return
		}
		s.metrics.ObserveCache(false)
	}

	res, err := m.svc.Predict(req)
	switch {
	case errors.Is(err, inference.ErrInvalidInput):
		s.rejectInput(w, err, reqID)
		return
	case errors.Is(err, inference.ErrModelUnavailable):
		s.metrics.ObserveUnavailable()
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), RequestID: reqID})
		return
	case err != nil:
		log.Error().Err(err).Str("request_id", reqID).Msg("Prediction failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "prediction failed", RequestID: reqID})
		return
	}

	if m.cache != nil {
		m.cache.Add(rec, res)
	}
	s.metrics.ObservePrediction(res.Label, res.Confidence, time.Since(start))
	s.observeDrift(m, res.Input)
	log.Debug().
		Str("request_id", reqID).
		Str("prediction", res.Label).
		Float64("confidence", res.Confidence).
		Msg("Prediction served")
	writeJSON(w, http.StatusOK, PredictResponse{Result: res, RequestID: reqID})
}

// observeDrift feeds an accepted input to the model's drift monitor and
// publishes the resulting scores.
func (s *Server) observeDrift(m *model, rec features.Record) {
	if m.drift == nil {
		return
	}
	row, err := features.Encode(rec)
	if err != nil {
		return
	}
	if err := m.drift.Observe(row); err != nil {
		log.Warn().Err(err).Msg("Drift observation failed")
		return
	}
	if scores := m.drift.Scores(); scores != nil {
		s.metrics.SetDrift(scores)
	}
	for _, alert := range m.drift.Detect() {
		s.metrics.ObserveDriftAlert(alert.Feature, alert.Severity)
		log.Warn().
			Str("feature", alert.Feature).
			Float64("score", alert.Score).
			Float64("threshold", alert.Threshold).
			Str("severity", alert.Severity).
			Msg("Input drift detected")
	}
}

func (s *Server) rejectInput(w http.ResponseWriter, err error, reqID string) {
	resp := errorResponse{Error: err.Error(), RequestID: reqID}
	var inputErr *inference.InvalidInputError
	if errors.As(err, &inputErr) {
		resp.Field = inputErr.Field
	}
	s.metrics.ObserveInvalidInput(resp.Field)
	writeJSON(w, http.StatusBadRequest, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "not loaded"
	if s.Service().Available() {
		status = "loaded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "OK", ModelStatus: status})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Service().Info())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), RequestID: RequestID(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, s.Service().Info())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "endpoint not found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
