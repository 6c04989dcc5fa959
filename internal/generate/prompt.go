package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"github.com/askneu/askneu/pkg/models"
)

// Prompt assembly bounds.
const (
	// maxPromptChars is the conservative character cap for the whole
	// user prompt.
	maxPromptChars = 12000

	// maxPromptTokens is the token budget the character cap is
	// validated against.
	maxPromptTokens = 3500
)

// systemInstruction is the grounding contract for the model.
const systemInstruction = "You answer questions about Northeastern University using ONLY the provided sources. " +
	"Cite sources by [index]. If the sources do not contain the answer, say so plainly. " +
	"Do not fabricate URLs, programs, or facts."

// contextParams is the per-mode prompt width.
type contextParams struct {
	docs         int
	excerptChars int
	maxTokens    int
}

func contextFor(mode models.Mode) contextParams {
	switch mode {
	case models.ModeUltraFast:
		return contextParams{docs: 3, excerptChars: 250, maxTokens: 300}
	case models.ModeBalanced:
		return contextParams{docs: 8, excerptChars: 500, maxTokens: 500}
	case models.ModeComprehensive:
		return contextParams{docs: 12, excerptChars: 500, maxTokens: 500}
	default: // ModeFast
		return contextParams{docs: 5, excerptChars: 350, maxTokens: 300}
	}
}

// promptBuilder assembles bounded prompts, validating the character
// cap against a token budget.
type promptBuilder struct {
	codec tokenizer.Codec
}

func newPromptBuilder() (*promptBuilder, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &promptBuilder{codec: codec}, nil
}

// build renders the user prompt from the top candidates for the mode.
// Overflow policy: truncate the last candidate's excerpt to fit the
// cap, then drop trailing candidates entirely. Returns the prompt and
// the candidates actually included, in prompt order.
func (b *promptBuilder) build(question models.Question, candidates []models.Candidate) (string, []models.Candidate) {
	params := contextFor(question.Mode)

	n := params.docs
	if n > len(candidates) {
		n = len(candidates)
	}
	selected := candidates[:n]

	blocks := make([]string, 0, n)
	for i, cand := range selected {
		blocks = append(blocks, renderBlock(i+1, cand, params.excerptChars))
	}

	used := selected
	prompt := assemble(question.Text, blocks)
	for len(used) > 0 && b.overBudget(prompt) {
		last := len(used) - 1
		// First shrink the trailing excerpt, then drop the candidate.
		overflow := len(prompt) - maxPromptChars
		block := blocks[last]
		if overflow > 0 && len(block) > overflow {
			blocks[last] = strings.TrimSpace(truncateBytes(block, len(block)-overflow))
			prompt = assemble(question.Text, blocks[:last+1])
			if !b.overBudget(prompt) {
				break
			}
		}
		used = used[:last]
		blocks = blocks[:last]
		prompt = assemble(question.Text, blocks)
	}

	return prompt, used
}

// overBudget checks both the character cap and the token budget.
func (b *promptBuilder) overBudget(prompt string) bool {
	if len(prompt) > maxPromptChars {
		return true
	}
	count, err := b.codec.Count(prompt)
	if err != nil {
		// Fall back to the character cap alone.
		return false
	}
	return count > maxPromptTokens
}

// truncateBytes cuts a string to at most max bytes without splitting a
// multi-byte rune.
func truncateBytes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func renderBlock(index int, cand models.Candidate, excerptChars int) string {
	excerpt := truncateBytes(strings.TrimSpace(cand.Content), excerptChars)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] %s\n", index, cand.Title)
	if cand.URL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", cand.URL)
	}
	fmt.Fprintf(&sb, "Excerpt: %s", excerpt)
	return sb.String()
}

func assemble(question string, blocks []string) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	for _, block := range blocks {
		sb.WriteString(block)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	return sb.String()
}
