package models

// Shard identifies a vector-store collection holding a partition of
// the corpus. Shards whose name contains "batch" are corpus shards;
// other collections are ignored.
type Shard struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ApproxSize int    `json:"approx_size,omitempty"`
}

// Candidate is a retrieved document chunk. Candidates are produced by
// the retrieval orchestrator, scored once by the relevance layer, and
// read-only afterwards.
type Candidate struct {
	DocID        string
	CollectionID string
	Content      string
	Metadata     map[string]string
	RawDistance  float64
	Similarity   float64
	Relevance    float64
	Title        string
	URL          string
}

// CosineSimilarity converts a cosine distance in [0,2] to a similarity
// in [0,1]. Out-of-range distances are clamped.
func CosineSimilarity(distance float64) float64 {
	s := 1.0 - distance/2.0
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// FallbackSimilarity maps an arbitrary non-negative distance to (0,1].
// Used when the store's metric is not cosine distance.
func FallbackSimilarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + distance)
}
