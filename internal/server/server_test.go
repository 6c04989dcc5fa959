package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askneu/askneu/internal/engine"
	"github.com/askneu/askneu/internal/generate"
	"github.com/askneu/askneu/internal/retrieval"
	"github.com/askneu/askneu/pkg/models"
)

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1}, nil
}

type stubRetriever struct{ err error }

func (s stubRetriever) Retrieve(_ context.Context, _ models.Question, _ []float32) (*retrieval.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &retrieval.Result{
		Candidates: []models.Candidate{
			{DocID: "d1", Similarity: 0.9, Content: "Co-op placements run six months."},
		},
		ShardsQueried: 1,
	}, nil
}

type stubRanker struct{}

func (stubRanker) Rank(_ string, candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Relevance = out[i].Similarity
		out[i].Title = "Co-op Program"
	}
	return out
}

type stubGenerator struct{ err error }

func (s stubGenerator) Generate(_ context.Context, _ models.Question, ranked []models.Candidate) (*generate.Output, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &generate.Output{
		Answer:     "Placements alternate with study terms [1].",
		Sources:    s.Sources(models.Question{}, ranked),
		Confidence: 0.8,
		UsedCount:  len(ranked),
	}, nil
}

func (stubGenerator) Sources(_ models.Question, ranked []models.Candidate) []models.Source {
	sources := make([]models.Source, 0, len(ranked))
	for _, c := range ranked {
		sources = append(sources, models.Source{Title: c.Title, Similarity: c.Similarity})
	}
	return sources
}

type stubStats struct{}

func (stubStats) Stats() map[string]any { return map[string]any{"probe": int64(1)} }

func testServer(t *testing.T, embedErr, retrieveErr, generateErr error) *Server {
	t.Helper()
	eng := engine.New(
		stubEmbedder{err: embedErr},
		stubRetriever{err: retrieveErr},
		stubRanker{},
		stubGenerator{err: generateErr},
		models.ModeFast,
	)
	return New("127.0.0.1:0", eng, map[string]StatsSource{"probe": stubStats{}})
}

func postAsk(t *testing.T, srv *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleAsk(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	rec := postAsk(t, srv, map[string]string{"question": "How does co-op work?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope models.AnswerEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, envelope.Answer, "Placements")
	assert.NotEmpty(t, envelope.Sources)
	assert.NotEmpty(t, envelope.TraceID)
}

func TestHandleAskHonorsTraceID(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	rec := postAsk(t, srv, map[string]string{
		"question": "How does co-op work?",
		"trace_id": "caller-trace",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope models.AnswerEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "caller-trace", envelope.TraceID)
}

func TestHandleAskValidation(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	rec := postAsk(t, srv, map[string]string{"question": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postAsk(t, srv, map[string]string{"question": "q", "mode": "warp"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAskUpstreamOutages(t *testing.T) {
	tests := []struct {
		name string
		srv  *Server
	}{
		{
			name: "embedding outage",
			srv:  testServer(t, fmt.Errorf("%w: down", models.ErrEmbeddingUnavailable), nil, nil),
		},
		{
			name: "vector store outage",
			srv:  testServer(t, nil, fmt.Errorf("%w: down", models.ErrVectorStoreUnavailable), nil),
		},
		{
			name: "llm outage",
			srv:  testServer(t, nil, nil, fmt.Errorf("%w: down", models.ErrLLMUnavailable)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAsk(t, tt.srv, map[string]string{"question": "any question"})
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotContains(t, resp.Error, "down", "upstream detail must not leak")
		})
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStats(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "engine")
	assert.Contains(t, body, "probe")
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))

	// Generated when absent.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil-localhost.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	srv := testServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	status, _ := statusFor(models.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = statusFor(models.ErrVectorStoreUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, msg := statusFor(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", msg)
}
