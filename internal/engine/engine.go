// Package engine composes the embedding gateway, retrieval
// orchestrator, relevance layer, and answer generator into the
// per-request question-answering pipeline. The engine is a value
// constructed once at startup with its collaborators and passed to
// request handlers.
package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/askneu/askneu/internal/generate"
	"github.com/askneu/askneu/internal/retrieval"
	"github.com/askneu/askneu/pkg/models"
)

// multiSpaceRegex collapses whitespace runs for cache keys.
var multiSpaceRegex = regexp.MustCompile(`\s+`)

// Embedder is the embedding gateway surface the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever is the orchestrator surface the engine needs.
type Retriever interface {
	Retrieve(ctx context.Context, question models.Question, vector []float32) (*retrieval.Result, error)
}

// Ranker is the relevance layer surface the engine needs.
type Ranker interface {
	Rank(query string, candidates []models.Candidate) []models.Candidate
}

// AnswerGenerator is the generation surface the engine needs.
type AnswerGenerator interface {
	Generate(ctx context.Context, question models.Question, ranked []models.Candidate) (*generate.Output, error)
	Sources(question models.Question, ranked []models.Candidate) []models.Source
}

// AskRequest is the logical request accepted by the engine.
type AskRequest struct {
	Question string
	Mode     string
	TraceID  string
}

// Engine answers questions over the corpus.
type Engine struct {
	embedder  Embedder
	retriever Retriever
	ranker    Ranker
	generator AnswerGenerator

	defaultMode models.Mode
	cache       *answerCache
	group       singleflight.Group

	cacheHits atomic.Int64
	requests  atomic.Int64

	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	cacheHitCounter metric.Int64Counter
	latencyHist     metric.Float64Histogram
}

// New creates an engine from its collaborators.
func New(embedder Embedder, retriever Retriever, ranker Ranker, generator AnswerGenerator, defaultMode models.Mode) *Engine {
	e := &Engine{
		embedder:    embedder,
		retriever:   retriever,
		ranker:      ranker,
		generator:   generator,
		defaultMode: defaultMode,
		cache:       newAnswerCache(),
	}
	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	meter := otel.Meter("github.com/askneu/askneu/internal/engine")
	var err error
	if e.requestCounter, err = meter.Int64Counter("askneu.requests"); err != nil {
		log.Warn().Err(err).Msg("Failed to create request counter")
	}
	if e.errorCounter, err = meter.Int64Counter("askneu.request.errors"); err != nil {
		log.Warn().Err(err).Msg("Failed to create error counter")
	}
	if e.cacheHitCounter, err = meter.Int64Counter("askneu.cache.hits"); err != nil {
		log.Warn().Err(err).Msg("Failed to create cache hit counter")
	}
	if e.latencyHist, err = meter.Float64Histogram("askneu.request.duration_ms"); err != nil {
		log.Warn().Err(err).Msg("Failed to create latency histogram")
	}
}

// Ask runs the full pipeline for one request. Partial shard failures
// and deadline overruns degrade the envelope; only invalid input and
// hard collaborator outages surface as errors.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*models.AnswerEnvelope, error) {
	start := time.Now()
	e.requests.Add(1)

	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if req.Mode == "" {
		mode = e.defaultMode
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	question := models.Question{
		Text:     req.Question,
		TraceID:  traceID,
		Deadline: start.Add(mode.Budget()),
		Mode:     mode,
	}
	if err := question.Validate(); err != nil {
		e.countError(ctx, "invalid_input")
		return nil, err
	}

	if e.requestCounter != nil {
		e.requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
	}

	normalized := strings.TrimSpace(multiSpaceRegex.ReplaceAllString(strings.ToLower(question.Text), " "))
	key := cacheKey(normalized, mode)
	if envelope, ok := e.cache.get(key); ok {
		e.cacheHits.Add(1)
		if e.cacheHitCounter != nil {
			e.cacheHitCounter.Add(ctx, 1)
		}
		cached := *envelope
		cached.TraceID = traceID
		return &cached, nil
	}

	// Coalesce concurrent identical questions into one pipeline run.
	result, err, _ := e.group.Do(key, func() (any, error) {
		return e.answer(ctx, question)
	})
	if err != nil {
		e.countError(ctx, "pipeline")
		return nil, err
	}

	envelope := result.(*models.AnswerEnvelope)
	// Degraded envelopes are transient; caching one would pin the
	// failure onto every repeat of the question for the TTL.
	if !envelope.DeadlineExceeded {
		e.cache.put(key, envelope)
	}

	out := *envelope
	out.TraceID = traceID
	out.Timings.TotalMS = time.Since(start).Milliseconds()
	if e.latencyHist != nil {
		e.latencyHist.Record(ctx, float64(out.Timings.TotalMS),
			metric.WithAttributes(attribute.String("mode", string(mode))))
	}
	return &out, nil
}

// answer runs the uncached pipeline.
func (e *Engine) answer(ctx context.Context, question models.Question) (*models.AnswerEnvelope, error) {
	ctx, cancel := context.WithDeadline(ctx, question.Deadline)
	defer cancel()

	var timings models.Timings

	embedStart := time.Now()
	vector, err := e.embedder.Embed(ctx, question.Text)
	if err != nil {
		return nil, err
	}
	timings.EmbedMS = time.Since(embedStart).Milliseconds()

	searchStart := time.Now()
	retrieved, err := e.retriever.Retrieve(ctx, question, vector)
	if err != nil {
		return nil, err
	}
	timings.SearchMS = time.Since(searchStart).Milliseconds()

	rerankStart := time.Now()
	ranked := e.ranker.Rank(question.Text, retrieved.Candidates)
	timings.RerankMS = time.Since(rerankStart).Milliseconds()

	generateStart := time.Now()
	output, err := e.generator.Generate(ctx, question, ranked)
	timings.GenerateMS = time.Since(generateStart).Milliseconds()
	if err != nil {
		// An LLM timeout against the budget degrades rather than
		// fails: best-so-far sources with low confidence.
		if errors.Is(err, context.DeadlineExceeded) || question.Remaining(time.Now()) == 0 {
			log.Warn().
				Str("trace_id", question.TraceID).
				Err(err).
				Msg("LLM call exceeded budget, returning degraded envelope")
			sources := e.generator.Sources(question, ranked)
			return &models.AnswerEnvelope{
				Answer:           "The answer could not be generated in time. The sources below may help.",
				Sources:          sources,
				Confidence:       0.2,
				Timings:          timings,
				UsedSourcesCount: len(sources),
				DeadlineExceeded: true,
			}, nil
		}
		return nil, err
	}

	return &models.AnswerEnvelope{
		Answer:           output.Answer,
		Sources:          output.Sources,
		Confidence:       output.Confidence,
		Timings:          timings,
		UsedSourcesCount: output.UsedCount,
		DeadlineExceeded: retrieved.DeadlineExceeded,
	}, nil
}

func (e *Engine) countError(ctx context.Context, kind string) {
	if e.errorCounter != nil {
		e.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// InvalidateCaches drops the answer cache.
func (e *Engine) InvalidateCaches() {
	e.cache.invalidateAll()
}

// Stats returns engine-level counters for the stats endpoint.
func (e *Engine) Stats() map[string]any {
	return map[string]any{
		"requests":     e.requests.Load(),
		"cache_hits":   e.cacheHits.Load(),
		"answer_cache": e.cache.stats(),
	}
}
