package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/askneu/askneu/pkg/models"
)

// Deadline handling for the LLM call.
const (
	// deadlineSafetyMargin is subtracted from the remaining budget so
	// the envelope can still be flushed after the call.
	deadlineSafetyMargin = 200 * time.Millisecond

	// minLLMTimeout is the floor for the LLM request timeout.
	minLLMTimeout = 1500 * time.Millisecond

	// degenerateAnswerLen marks answers too short to be useful.
	degenerateAnswerLen = 20

	// lowConfidence is assigned to degenerate or "no information"
	// answers.
	lowConfidence = 0.2
)

// refusalPreambles are common boilerplate openings stripped from
// model output.
var refusalPreambles = []string{
	"I'm sorry, but ",
	"I apologize, but ",
	"As an AI language model, ",
	"As an AI assistant, ",
	"Based on the provided sources, ",
	"According to the provided sources, ",
}

// noInformationMarkers identify answers that state the sources do not
// cover the question.
var noInformationMarkers = []string{
	"do not contain",
	"don't contain",
	"no information",
	"not mentioned in the sources",
	"cannot answer",
}

// Output is the generation result before envelope assembly.
type Output struct {
	Answer     string
	Sources    []models.Source
	Confidence float64
	UsedCount  int
}

// Generator packages prompts and calls the chat provider.
type Generator struct {
	client       ChatClient
	builder      *promptBuilder
	temperature  float64
	maxTokensCap int
}

// Config holds configuration for the generator.
type Config struct {
	Temperature float64

	// MaxTokensCap bounds the completion size across all modes;
	// non-positive means the per-mode width applies unclamped.
	MaxTokensCap int
}

// NewGenerator creates a generator over the given chat client.
func NewGenerator(client ChatClient, cfg Config) (*Generator, error) {
	builder, err := newPromptBuilder()
	if err != nil {
		return nil, err
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.2
	}
	return &Generator{
		client:       client,
		builder:      builder,
		temperature:  temp,
		maxTokensCap: cfg.MaxTokensCap,
	}, nil
}

// Generate produces an answer from ranked candidates. The LLM request
// timeout is the remaining deadline minus a safety margin, floored at
// minLLMTimeout. Failure maps to ErrLLMUnavailable.
func (g *Generator) Generate(ctx context.Context, question models.Question, ranked []models.Candidate) (*Output, error) {
	prompt, used := g.builder.build(question, ranked)
	sources := sourcesFor(used)

	if len(used) == 0 {
		// Nothing to ground an answer on; answer honestly without
		// calling the model.
		return &Output{
			Answer:     "I could not find relevant Northeastern University sources for this question.",
			Sources:    nil,
			Confidence: lowConfidence,
		}, nil
	}

	timeout := minLLMTimeout
	if remaining := question.Remaining(time.Now()); remaining-deadlineSafetyMargin > timeout {
		timeout = remaining - deadlineSafetyMargin
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := contextFor(question.Mode)
	maxTokens := params.maxTokens
	if g.maxTokensCap > 0 && maxTokens > g.maxTokensCap {
		maxTokens = g.maxTokensCap
	}
	messages := []Message{
		{Role: "system", Content: systemInstruction},
		{Role: "user", Content: prompt},
	}

	raw, err := g.client.Chat(callCtx, messages, g.temperature, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answer := postProcess(raw)
	confidence := confidenceFor(answer, used)

	log.Debug().
		Str("trace_id", question.TraceID).
		Int("used_sources", len(used)).
		Float64("confidence", confidence).
		Msg("Answer generated")

	return &Output{
		Answer:     answer,
		Sources:    sources,
		Confidence: confidence,
		UsedCount:  len(used),
	}, nil
}

// Sources returns the attribution list for candidates without calling
// the model. Used for degraded responses when the LLM times out.
func (g *Generator) Sources(question models.Question, ranked []models.Candidate) []models.Source {
	_, used := g.builder.build(question, ranked)
	return sourcesFor(used)
}

// sourcesFor builds attributions for prompt candidates, in prompt
// order, capped at MaxSources.
func sourcesFor(used []models.Candidate) []models.Source {
	n := len(used)
	if n > models.MaxSources {
		n = models.MaxSources
	}
	sources := make([]models.Source, 0, n)
	for _, cand := range used[:n] {
		excerpt := truncateBytes(strings.TrimSpace(cand.Content), models.MaxExcerptLen)
		sources = append(sources, models.Source{
			Title:      cand.Title,
			URL:        cand.URL,
			Similarity: cand.Similarity,
			Excerpt:    excerpt,
		})
	}
	return sources
}

// postProcess strips refusal preambles and trims whitespace.
func postProcess(raw string) string {
	answer := strings.TrimSpace(raw)
	for _, preamble := range refusalPreambles {
		if strings.HasPrefix(answer, preamble) {
			answer = strings.TrimSpace(answer[len(preamble):])
			if answer != "" {
				// Re-capitalize after removing the preamble.
				answer = strings.ToUpper(answer[:1]) + answer[1:]
			}
			break
		}
	}
	return answer
}

// confidenceFor assigns lowConfidence to degenerate answers, else the
// mean of the top-3 relevance scores clamped to 1.0.
func confidenceFor(answer string, used []models.Candidate) float64 {
	if len(answer) < degenerateAnswerLen {
		return lowConfidence
	}
	lower := strings.ToLower(answer)
	for _, marker := range noInformationMarkers {
		if strings.Contains(lower, marker) {
			return lowConfidence
		}
	}

	n := len(used)
	if n > 3 {
		n = 3
	}
	if n == 0 {
		return lowConfidence
	}
	var sum float64
	for _, cand := range used[:n] {
		sum += cand.Relevance
	}
	confidence := sum / float64(n)
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}
