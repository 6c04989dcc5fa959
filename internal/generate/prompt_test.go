package generate

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askneu/askneu/pkg/models"
)

func promptCandidates(n, contentLen int) []models.Candidate {
	filler := strings.Repeat("northeastern campus life detail ", contentLen/32+1)[:contentLen]
	out := make([]models.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Candidate{
			DocID:   fmt.Sprintf("d%02d", i),
			Title:   fmt.Sprintf("Document %d", i),
			URL:     fmt.Sprintf("https://northeastern.edu/doc/%d", i),
			Content: filler,
		})
	}
	return out
}

func TestContextForModes(t *testing.T) {
	tests := []struct {
		mode         models.Mode
		docs         int
		excerptChars int
		maxTokens    int
	}{
		{models.ModeUltraFast, 3, 250, 300},
		{models.ModeFast, 5, 350, 300},
		{models.ModeBalanced, 8, 500, 500},
		{models.ModeComprehensive, 12, 500, 500},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			p := contextFor(tt.mode)
			assert.Equal(t, tt.docs, p.docs)
			assert.Equal(t, tt.excerptChars, p.excerptChars)
			assert.Equal(t, tt.maxTokens, p.maxTokens)
		})
	}
}

func TestBuildSelectsTopDocs(t *testing.T) {
	b, err := newPromptBuilder()
	require.NoError(t, err)

	q := models.Question{Text: "What is the co-op program?", Mode: models.ModeFast}
	prompt, used := b.build(q, promptCandidates(10, 100))

	assert.Len(t, used, 5, "fast mode includes five documents")
	assert.Contains(t, prompt, "[1] Document 0")
	assert.Contains(t, prompt, "[5] Document 4")
	assert.NotContains(t, prompt, "Document 5")
	assert.Contains(t, prompt, "Question: What is the co-op program?")
}

func TestBuildFewerCandidatesThanWidth(t *testing.T) {
	b, err := newPromptBuilder()
	require.NoError(t, err)

	q := models.Question{Text: "housing", Mode: models.ModeComprehensive}
	prompt, used := b.build(q, promptCandidates(2, 50))

	assert.Len(t, used, 2)
	assert.Contains(t, prompt, "[2] Document 1")
}

func TestBuildEmptyCandidates(t *testing.T) {
	b, err := newPromptBuilder()
	require.NoError(t, err)

	q := models.Question{Text: "anything", Mode: models.ModeFast}
	prompt, used := b.build(q, nil)

	assert.Empty(t, used)
	assert.Contains(t, prompt, "Question: anything")
}

func TestBuildTruncatesExcerpts(t *testing.T) {
	b, err := newPromptBuilder()
	require.NoError(t, err)

	q := models.Question{Text: "q", Mode: models.ModeUltraFast}
	prompt, _ := b.build(q, promptCandidates(3, 5000))

	// Ultrafast caps excerpts at 250 chars; the 5000-char content must
	// not survive intact.
	assert.Less(t, len(prompt), 2000)
}

func TestBuildStaysUnderCharCap(t *testing.T) {
	b, err := newPromptBuilder()
	require.NoError(t, err)

	// Comprehensive width with bulky titles and URLs still fits.
	cands := promptCandidates(12, 500)
	q := models.Question{Text: strings.Repeat("long question ", 50), Mode: models.ModeComprehensive}

	prompt, used := b.build(q, cands)
	assert.LessOrEqual(t, len(prompt), maxPromptChars)
	assert.NotEmpty(t, used)
}

func TestTruncateBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateBytes("abc", 10))
	assert.Equal(t, "ab", truncateBytes("abcd", 2))
	assert.Equal(t, "", truncateBytes("abc", 0))

	// A cut landing inside a multi-byte rune backs up to the boundary.
	s := "caféteria" // é is two bytes, at offsets 3-4
	out := truncateBytes(s, 4)
	assert.Equal(t, "caf", out)
	assert.True(t, utf8.ValidString(out))
}

func TestRenderBlockMultibyteExcerpt(t *testing.T) {
	content := strings.Repeat("é", 200) // 400 bytes
	block := renderBlock(1, models.Candidate{Title: "T", Content: content}, 251)

	assert.True(t, utf8.ValidString(block), "excerpt truncation must not split runes")
	assert.LessOrEqual(t, len(block), len("[1] T\nExcerpt: ")+251)
}

func TestRenderBlock(t *testing.T) {
	block := renderBlock(2, models.Candidate{
		Title:   "Dining Services",
		URL:     "https://northeastern.edu/dining",
		Content: "  Meal plans for residents.  ",
	}, 100)

	assert.Equal(t, "[2] Dining Services\nURL: https://northeastern.edu/dining\nExcerpt: Meal plans for residents.", block)

	// No URL line when the candidate has none.
	block = renderBlock(1, models.Candidate{Title: "T", Content: "c"}, 100)
	assert.NotContains(t, block, "URL:")
}
