package models

import "errors"

// Sentinel errors surfaced across component boundaries.
// Partial shard failures and deadline overruns are never surfaced as
// errors; they are reflected in the AnswerEnvelope instead.
var (
	// ErrInvalidInput marks a request that fails edge validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable marks a failed embedding provider call
	// after retries. The request cannot proceed without a vector.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrVectorStoreUnavailable marks a complete store outage: the
	// shard list cannot be obtained and no cached copy is fresh.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")

	// ErrLLMUnavailable marks a failed chat completion after retries.
	ErrLLMUnavailable = errors.New("llm provider unavailable")
)
