// Package rag holds the answer-facing types: responses, query metadata,
// conversation turns, and the streaming event union.
package rag

import "github.com/lorekeep/lorekeep/internal/domain/chunk"

// ModelNone marks responses that never reached the generation service
// (zero-chunk short circuit).
const ModelNone = "none"

// NoResultsAnswer is the canned answer returned when no eligible passages
// exist for a question. Distinguishes "nothing relevant" from a failure.
const NoResultsAnswer = "I don't have any campaign material that covers this. " +
	"Try uploading the relevant source document or rephrasing the question."

// Metadata carries per-query observability figures.
type Metadata struct {
	Model               string `json:"model"`
	PromptTokens        int    `json:"prompt_tokens"`
	CompletionTokens    int    `json:"completion_tokens"`
	TotalLatencyMs      int64  `json:"total_latency_ms"`
	SearchLatencyMs     int64  `json:"search_latency_ms"`
	GenerationLatencyMs int64  `json:"generation_latency_ms"`
	ChunksRetrieved     int    `json:"chunks_retrieved"`
	ConversationID      string `json:"conversation_id,omitempty"`
}

// Response is the unit returned to a caller for one answered question.
type Response struct {
	QueryID  string         `json:"query_id"`
	Answer   string         `json:"answer"`
	Sources  []chunk.Source `json:"sources"`
	Metadata Metadata       `json:"metadata"`
}
