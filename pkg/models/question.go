// Package models defines the shared value types that flow through the
// askneu retrieval and answer pipeline.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects retrieval breadth and context width for a question.
type Mode string

// Retrieval modes, ordered from narrowest to widest.
const (
	ModeUltraFast     Mode = "ultrafast"
	ModeFast          Mode = "fast"
	ModeBalanced      Mode = "balanced"
	ModeComprehensive Mode = "comprehensive"
)

// Question length bounds enforced at the edge.
const (
	MinQuestionLen = 1
	MaxQuestionLen = 2000
)

// ParseMode parses a mode string case-insensitively.
// An empty string resolves to ModeFast.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeFast, nil
	case ModeUltraFast:
		return ModeUltraFast, nil
	case ModeFast:
		return ModeFast, nil
	case ModeBalanced:
		return ModeBalanced, nil
	case ModeComprehensive:
		return ModeComprehensive, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, s)
	}
}

// Budget returns the wall-clock budget for a full request in this mode.
func (m Mode) Budget() time.Duration {
	switch m {
	case ModeUltraFast:
		return 1500 * time.Millisecond
	case ModeFast:
		return 2500 * time.Millisecond
	case ModeBalanced:
		return 4 * time.Second
	case ModeComprehensive:
		return 8 * time.Second
	default:
		return 2500 * time.Millisecond
	}
}

// Question is the immutable input bundle for a single request.
// It is created at the edge and flows read-only through the pipeline.
type Question struct {
	Text     string
	TraceID  string
	Deadline time.Time
	Mode     Mode
}

// Validate checks the question text against the edge length bounds.
func (q Question) Validate() error {
	n := len(strings.TrimSpace(q.Text))
	if n < MinQuestionLen || len(q.Text) > MaxQuestionLen {
		return fmt.Errorf("%w: question must be %d..%d characters, got %d",
			ErrInvalidInput, MinQuestionLen, MaxQuestionLen, len(q.Text))
	}
	return nil
}

// Remaining returns the time left until the question's deadline.
// Returns zero when the deadline has already passed.
func (q Question) Remaining(now time.Time) time.Duration {
	if !now.Before(q.Deadline) {
		return 0
	}
	return q.Deadline.Sub(now)
}
