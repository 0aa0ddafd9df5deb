package lorekeep

// Message is one prior conversation turn, oldest first.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// QueryRequest asks a question against a campaign's indexed material.
type QueryRequest struct {
	Question       string    `json:"question"`
	TopK           int       `json:"top_k,omitempty"`
	ResourceIDs    []string  `json:"resource_ids,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	History        []Message `json:"history,omitempty"`
}

// Source is one cited passage backing an answer.
type Source struct {
	ID         string  `json:"id"`
	ResourceID string  `json:"resource_id"`
	Rank       int     `json:"rank"`
	Preview    string  `json:"preview"`
	Page       *int    `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Score      float64 `json:"score"`
}

// Metadata carries per-query figures: model, token usage, latencies.
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

// QueryResponse is a completed answer with its citations.
type QueryResponse struct {
	QueryID  string   `json:"query_id"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Metadata Metadata `json:"metadata"`
}

// Stream event types.
const (
	EventChunk   = "chunk"
	EventSources = "sources"
	EventDone    = "done"
)

// DonePayload closes a stream.
type DonePayload struct {
	QueryID  string   `json:"query_id"`
	Metadata Metadata `json:"metadata"`
}

// StreamEvent is one server-sent event from a streaming query. Exactly one
// payload field is set, matching Type.
type StreamEvent struct {
	Type    string       `json:"type"`
	Delta   string       `json:"delta,omitempty"`
	Sources []Source     `json:"sources,omitempty"`
	Done    *DonePayload `json:"done,omitempty"`
}

// SearchRequest runs retrieval without answer generation.
type SearchRequest struct {
	Query       string   `json:"query"`
	Mode        string   `json:"mode,omitempty"` // "hybrid" (default), "vector", "keyword"
	TopK        int      `json:"top_k,omitempty"`
	ResourceIDs []string `json:"resource_ids,omitempty"`
	Pages       []int    `json:"pages,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SearchResult is one retrieved passage.
type SearchResult struct {
	ID         string  `json:"id"`
	ResourceID string  `json:"resource_id"`
	Content    string  `json:"content"`
	Page       *int    `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Score      float64 `json:"score"`
	Provenance string  `json:"provenance"`
}

// SearchResponse lists retrieved passages in rank order.
type SearchResponse struct {
	Items []SearchResult `json:"items"`
	Total int            `json:"total"`
}

// HealthStatus represents the aggregated service health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks"` // component -> "ok"/"error"
}
