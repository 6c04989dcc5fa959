package models

// MaxSources is the maximum number of source attributions returned.
const MaxSources = 5

// MaxExcerptLen bounds the excerpt length of a source attribution.
const MaxExcerptLen = 240

// Source is a single attribution in the answer envelope, in the order
// its candidate appeared in the prompt.
type Source struct {
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}

// Timings records per-stage wall-clock milliseconds for a request.
type Timings struct {
	EmbedMS    int64 `json:"embed_ms"`
	SearchMS   int64 `json:"search_ms"`
	RerankMS   int64 `json:"rerank_ms"`
	GenerateMS int64 `json:"generate_ms"`
	TotalMS    int64 `json:"total_ms"`
}

// AnswerEnvelope is the typed response for a question.
type AnswerEnvelope struct {
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	Confidence       float64  `json:"confidence"`
	Timings          Timings  `json:"timings"`
	UsedSourcesCount int      `json:"used_sources_count"`
	DeadlineExceeded bool     `json:"deadline_exceeded"`
	TraceID          string   `json:"trace_id,omitempty"`
}
