package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Mode
		wantErr  bool
	}{
		{name: "empty defaults to fast", input: "", expected: ModeFast},
		{name: "ultrafast", input: "ultrafast", expected: ModeUltraFast},
		{name: "fast", input: "fast", expected: ModeFast},
		{name: "balanced", input: "balanced", expected: ModeBalanced},
		{name: "comprehensive", input: "comprehensive", expected: ModeComprehensive},
		{name: "case insensitive", input: "Balanced", expected: ModeBalanced},
		{name: "surrounding whitespace", input: " fast ", expected: ModeFast},
		{name: "unknown mode", input: "turbo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := ParseMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mode)
		})
	}
}

func TestModeBudget(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, ModeUltraFast.Budget())
	assert.Equal(t, 2500*time.Millisecond, ModeFast.Budget())
	assert.Equal(t, 4*time.Second, ModeBalanced.Budget())
	assert.Equal(t, 8*time.Second, ModeComprehensive.Budget())
}

func TestQuestionValidate(t *testing.T) {
	valid := Question{Text: "What undergraduate programs does Northeastern offer?"}
	assert.NoError(t, valid.Validate())

	empty := Question{Text: "   "}
	assert.ErrorIs(t, empty.Validate(), ErrInvalidInput)

	long := Question{Text: string(make([]byte, MaxQuestionLen+1))}
	assert.ErrorIs(t, long.Validate(), ErrInvalidInput)
}

func TestQuestionRemaining(t *testing.T) {
	now := time.Now()
	q := Question{Deadline: now.Add(time.Second)}

	assert.Equal(t, time.Second, q.Remaining(now))
	assert.Equal(t, time.Duration(0), q.Remaining(now.Add(2*time.Second)))
	assert.Equal(t, time.Duration(0), q.Remaining(q.Deadline))
}

func TestCosineSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, CosineSimilarity(0))
	assert.Equal(t, 0.5, CosineSimilarity(1.0))
	assert.Equal(t, 0.0, CosineSimilarity(2.0))

	// Out-of-range distances clamp rather than escape [0,1].
	assert.Equal(t, 1.0, CosineSimilarity(-0.5))
	assert.Equal(t, 0.0, CosineSimilarity(3.0))
}

// TestCosineSimilarityMonotone checks similarity strictly decreases in
// raw distance over the valid range.
func TestCosineSimilarityMonotone(t *testing.T) {
	prev := CosineSimilarity(0)
	for d := 0.1; d <= 2.0; d += 0.1 {
		s := CosineSimilarity(d)
		assert.Less(t, s, prev, "similarity must decrease at distance %f", d)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
}

func TestFallbackSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, FallbackSimilarity(0))
	assert.Equal(t, 0.5, FallbackSimilarity(1))
	assert.InDelta(t, 0.25, FallbackSimilarity(3), 1e-9)
	assert.Equal(t, 1.0, FallbackSimilarity(-1))
}
