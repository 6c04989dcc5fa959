package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/askneu/askneu/internal/engine"
	"github.com/askneu/askneu/pkg/models"
)

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// errorResponse is the JSON error body. It carries a short message
// and the trace id, never stack traces or upstream details.
type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = requestIDFrom(r.Context())
	}

	envelope, err := s.engine.Ask(r.Context(), engine.AskRequest{
		Question: req.Question,
		Mode:     req.Mode,
		TraceID:  traceID,
	})
	if err != nil {
		status, message := statusFor(err)
		log.Warn().
			Err(err).
			Str("trace_id", traceID).
			Int("status", status).
			Msg("Ask request failed")
		s.writeError(w, r, status, message)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope)
}

// statusFor maps sentinel errors to HTTP status codes and safe
// user-facing messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "question must be between 1 and 2000 characters"
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, "embedding service is unavailable"
	case errors.Is(err, models.ErrVectorStoreUnavailable):
		return http.StatusServiceUnavailable, "search index is unavailable"
	case errors.Is(err, models.ErrLLMUnavailable):
		return http.StatusServiceUnavailable, "answer service is unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"engine": s.engine.Stats(),
	}
	for name, source := range s.statsSources {
		stats[name] = source.Stats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, status, errorResponse{
		Error:   message,
		TraceID: requestIDFrom(r.Context()),
	})
}
