package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askneu/askneu/internal/generate"
	"github.com/askneu/askneu/internal/retrieval"
	"github.com/askneu/askneu/pkg/models"
)

type fakeEmbedder struct {
	calls atomic.Int64
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeRetriever struct {
	result *retrieval.Result
	err    error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ models.Question, _ []float32) (*retrieval.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRanker struct{}

func (fakeRanker) Rank(_ string, candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Relevance = out[i].Similarity
		out[i].Title = fmt.Sprintf("Title %d", i)
	}
	return out
}

type fakeGenerator struct {
	err   error
	calls atomic.Int64
}

func (f *fakeGenerator) Generate(_ context.Context, _ models.Question, ranked []models.Candidate) (*generate.Output, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &generate.Output{
		Answer:     "The co-op program alternates study and work placements [1].",
		Sources:    f.Sources(models.Question{}, ranked),
		Confidence: 0.85,
		UsedCount:  len(ranked),
	}, nil
}

func (f *fakeGenerator) Sources(_ models.Question, ranked []models.Candidate) []models.Source {
	n := len(ranked)
	if n > models.MaxSources {
		n = models.MaxSources
	}
	sources := make([]models.Source, 0, n)
	for _, c := range ranked[:n] {
		sources = append(sources, models.Source{Title: c.Title, Similarity: c.Similarity})
	}
	return sources
}

func retrievedCandidates(n int) *retrieval.Result {
	cands := make([]models.Candidate, 0, n)
	for i := 0; i < n; i++ {
		cands = append(cands, models.Candidate{
			DocID:      fmt.Sprintf("d%d", i),
			Similarity: 0.9 - float64(i)*0.1,
			Content:    "chunk",
		})
	}
	return &retrieval.Result{Candidates: cands, ShardsQueried: n}
}

func newTestEngine(embedder *fakeEmbedder, retriever *fakeRetriever, gen *fakeGenerator) *Engine {
	return New(embedder, retriever, fakeRanker{}, gen, models.ModeFast)
}

func TestAsk(t *testing.T) {
	embedder := &fakeEmbedder{}
	eng := newTestEngine(embedder, &fakeRetriever{result: retrievedCandidates(3)}, &fakeGenerator{})

	envelope, err := eng.Ask(context.Background(), AskRequest{
		Question: "How does the co-op program work?",
	})
	require.NoError(t, err)

	assert.Contains(t, envelope.Answer, "co-op")
	assert.Len(t, envelope.Sources, 3)
	assert.InDelta(t, 0.85, envelope.Confidence, 1e-9)
	assert.False(t, envelope.DeadlineExceeded)
	assert.NotEmpty(t, envelope.TraceID, "a trace id is generated when absent")
	assert.GreaterOrEqual(t, envelope.Timings.TotalMS, int64(0))
}

func TestAskInvalidInput(t *testing.T) {
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: retrievedCandidates(1)}, &fakeGenerator{})

	_, err := eng.Ask(context.Background(), AskRequest{Question: "   "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = eng.Ask(context.Background(), AskRequest{Question: "q", Mode: "warp"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAskAnswerCache(t *testing.T) {
	embedder := &fakeEmbedder{}
	gen := &fakeGenerator{}
	eng := newTestEngine(embedder, &fakeRetriever{result: retrievedCandidates(2)}, gen)

	first, err := eng.Ask(context.Background(), AskRequest{Question: "What dining plans exist?", TraceID: "trace-1"})
	require.NoError(t, err)

	// Same question modulo case and whitespace hits the cache.
	second, err := eng.Ask(context.Background(), AskRequest{Question: "  what   dining plans exist? ", TraceID: "trace-2"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), gen.calls.Load(), "cached answer must not rerun the pipeline")
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, "trace-2", second.TraceID, "trace id reflects the current request")

	// A different mode is a different cache entry.
	_, err = eng.Ask(context.Background(), AskRequest{Question: "What dining plans exist?", Mode: "balanced"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen.calls.Load())
}

func TestAskEmbeddingOutage(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("%w: provider down", models.ErrEmbeddingUnavailable)}
	eng := newTestEngine(embedder, &fakeRetriever{result: retrievedCandidates(1)}, &fakeGenerator{})

	_, err := eng.Ask(context.Background(), AskRequest{Question: "any question"})
	assert.ErrorIs(t, err, models.ErrEmbeddingUnavailable)
}

func TestAskVectorStoreOutage(t *testing.T) {
	retriever := &fakeRetriever{err: fmt.Errorf("%w: no shard list", models.ErrVectorStoreUnavailable)}
	eng := newTestEngine(&fakeEmbedder{}, retriever, &fakeGenerator{})

	_, err := eng.Ask(context.Background(), AskRequest{Question: "any question"})
	assert.ErrorIs(t, err, models.ErrVectorStoreUnavailable)
}

func TestAskDegradedRetrieval(t *testing.T) {
	// Partial failure marked degraded flows through to the envelope.
	result := retrievedCandidates(2)
	result.DeadlineExceeded = true
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: result}, &fakeGenerator{})

	envelope, err := eng.Ask(context.Background(), AskRequest{Question: "partial failure question"})
	require.NoError(t, err)
	assert.True(t, envelope.DeadlineExceeded)
	assert.NotEmpty(t, envelope.Sources)
}

func TestAskLLMTimeoutDegrades(t *testing.T) {
	// The error shape the chat client produces for a call timeout:
	// ErrLLMUnavailable with the context cause still in the chain.
	gen := &fakeGenerator{err: fmt.Errorf("generate answer: %w",
		fmt.Errorf("%w: send chat request: %w", models.ErrLLMUnavailable, context.DeadlineExceeded))}
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: retrievedCandidates(3)}, gen)

	envelope, err := eng.Ask(context.Background(), AskRequest{Question: "slow generation question"})
	require.NoError(t, err, "an LLM timeout degrades instead of failing")

	assert.True(t, envelope.DeadlineExceeded)
	assert.Equal(t, 0.2, envelope.Confidence)
	assert.Len(t, envelope.Sources, 3, "degraded envelope still attributes sources")
	assert.NotEmpty(t, envelope.Answer)
}

func TestAskDegradedEnvelopeNotCached(t *testing.T) {
	result := retrievedCandidates(2)
	result.DeadlineExceeded = true
	gen := &fakeGenerator{}
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: result}, gen)

	first, err := eng.Ask(context.Background(), AskRequest{Question: "transient overrun question"})
	require.NoError(t, err)
	require.True(t, first.DeadlineExceeded)

	// The repeat must rerun the pipeline, not replay the overrun.
	_, err = eng.Ask(context.Background(), AskRequest{Question: "transient overrun question"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen.calls.Load(), "degraded envelopes must not be cached")
}

func TestAskLLMHardFailure(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("generate answer: %w", models.ErrLLMUnavailable)}
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: retrievedCandidates(3)}, gen)

	_, err := eng.Ask(context.Background(), AskRequest{Question: "hard failure question"})
	assert.ErrorIs(t, err, models.ErrLLMUnavailable)
}

func TestInvalidateCaches(t *testing.T) {
	gen := &fakeGenerator{}
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: retrievedCandidates(1)}, gen)

	_, err := eng.Ask(context.Background(), AskRequest{Question: "cached question"})
	require.NoError(t, err)

	eng.InvalidateCaches()

	_, err = eng.Ask(context.Background(), AskRequest{Question: "cached question"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen.calls.Load())
}

func TestEngineStats(t *testing.T) {
	eng := newTestEngine(&fakeEmbedder{}, &fakeRetriever{result: retrievedCandidates(1)}, &fakeGenerator{})

	_, err := eng.Ask(context.Background(), AskRequest{Question: "stats question"})
	require.NoError(t, err)

	stats := eng.Stats()
	assert.Equal(t, int64(1), stats["requests"])
	assert.Equal(t, int64(0), stats["cache_hits"])
}

func TestCacheKey(t *testing.T) {
	a := cacheKey("what is co-op", models.ModeFast)
	b := cacheKey("what is co-op", models.ModeFast)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, cacheKey("what is co-op", models.ModeBalanced))
	assert.NotEqual(t, a, cacheKey("what is coop", models.ModeFast))
}

func TestAnswerCacheTTL(t *testing.T) {
	c := newAnswerCache()
	c.ttl = 10 * time.Millisecond

	c.put("k", &models.AnswerEnvelope{Answer: "a"})
	_, ok := c.get("k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok, "expired entries must not be served")
}

func TestAnswerCacheEviction(t *testing.T) {
	c := newAnswerCache()
	c.maxSize = 10

	for i := 0; i < 50; i++ {
		c.put(fmt.Sprintf("k%d", i), &models.AnswerEnvelope{})
	}
	assert.LessOrEqual(t, c.stats()["size"].(int), 10)
}
