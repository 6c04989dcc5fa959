// Package relevance refines vector-similarity candidates with lexical
// signals, synthesizes display metadata, and produces the final
// ranking handed to answer generation.
package relevance

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/askneu/askneu/pkg/models"
)

// Scoring weights and filter thresholds.
const (
	titleMatchBoost  = 0.10
	contentBoost     = 0.05
	exactPhraseBoost = 0.05

	// contentMatchWindow limits the content scanned for query tokens.
	contentMatchWindow = 1000

	// minSimilarity is the similarity floor below which candidates
	// are dropped.
	minSimilarity = 0.15

	// gracefulFloor is the minimum result count preserved: when the
	// floor filter leaves fewer, the best dropped candidates are
	// reintroduced up to this many.
	gracefulFloor = 3

	// minPhraseTokens is the minimum query length, in tokens, for the
	// exact-phrase boost to apply.
	minPhraseTokens = 3
)

// Ranker scores and orders candidates. Ranking is a pure function of
// candidate contents; it carries no state between calls.
type Ranker struct{}

// NewRanker creates a ranker.
func NewRanker() *Ranker {
	return &Ranker{}
}

// Rank synthesizes titles and URLs, computes composite relevance,
// applies the similarity floor, and returns candidates ordered by
// relevance descending with deterministic tie-breaks.
func (r *Ranker) Rank(query string, candidates []models.Candidate) []models.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	queryTokens := contentTokens(query)
	phrase := strings.ToLower(strings.TrimSpace(query))
	usePhrase := len(strings.Fields(phrase)) >= minPhraseTokens

	scored := make([]models.Candidate, len(candidates))
	for i, cand := range candidates {
		cand.Title = SynthesizeTitle(cand.Metadata["title"], cand.Content)
		cand.URL = SynthesizeURL(cand.Metadata["url"], cand.Content)
		cand.Relevance = score(cand, queryTokens, phrase, usePhrase)
		scored[i] = cand
	}

	kept, droppedBest := applyFloor(scored)
	if len(droppedBest) > 0 {
		log.Debug().
			Int("reintroduced", len(droppedBest)).
			Msg("Similarity floor left too few candidates, reintroducing best dropped")
		kept = append(kept, droppedBest...)
	}

	sortByRelevance(kept)
	return kept
}

// score computes relevance = similarity + boosts for title, content,
// and exact-phrase matches.
func score(cand models.Candidate, queryTokens []string, phrase string, usePhrase bool) float64 {
	relevance := cand.Similarity

	titleLower := strings.ToLower(cand.Title)
	for _, tok := range queryTokens {
		if strings.Contains(titleLower, tok) {
			relevance += titleMatchBoost
			break
		}
	}

	window := cand.Content
	if len(window) > contentMatchWindow {
		window = window[:contentMatchWindow]
	}
	windowLower := strings.ToLower(window)
	for _, tok := range queryTokens {
		if strings.Contains(windowLower, tok) {
			relevance += contentBoost
			break
		}
	}

	if usePhrase && strings.Contains(strings.ToLower(cand.Content), phrase) {
		relevance += exactPhraseBoost
	}

	return relevance
}

// applyFloor drops candidates below the similarity floor. When fewer
// than gracefulFloor remain, it returns up to gracefulFloor of the
// highest-similarity dropped candidates for reintroduction rather
// than letting the result go empty.
func applyFloor(candidates []models.Candidate) (kept, reintroduced []models.Candidate) {
	var dropped []models.Candidate
	for _, cand := range candidates {
		if cand.Similarity < minSimilarity {
			dropped = append(dropped, cand)
			continue
		}
		kept = append(kept, cand)
	}

	if len(kept) >= gracefulFloor || len(dropped) == 0 {
		return kept, nil
	}

	sort.Slice(dropped, func(i, j int) bool {
		if dropped[i].Similarity != dropped[j].Similarity {
			return dropped[i].Similarity > dropped[j].Similarity
		}
		return dropped[i].DocID < dropped[j].DocID
	})
	need := gracefulFloor - len(kept)
	if need > len(dropped) {
		need = len(dropped)
	}
	return kept, dropped[:need]
}

// sortByRelevance orders by relevance descending, ties by similarity
// descending then document ID ascending.
func sortByRelevance(candidates []models.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Relevance != candidates[j].Relevance {
			return candidates[i].Relevance > candidates[j].Relevance
		}
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].DocID < candidates[j].DocID
	})
}

// contentTokens splits a query into lowercased non-stopword tokens.
func contentTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if f == "" || isStopword(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
