package rag

import "github.com/lorekeep/lorekeep/internal/domain/chunk"

// EventType tags a streaming event.
type EventType string

// Stream event types. A stream emits zero or more chunk events, then exactly
// one sources event, then exactly one done event, then closes.
const (
	EventChunk   EventType = "chunk"
	EventSources EventType = "sources"
	EventDone    EventType = "done"
)

// DonePayload closes a stream: final metadata plus the persisted query id.
type DonePayload struct {
	QueryID  string   `json:"query_id"`
	Metadata Metadata `json:"metadata"`
}

// StreamEvent is the tagged union emitted during interactive generation.
// Exactly one payload field is set, matching Type.
type StreamEvent struct {
	Type    EventType      `json:"type"`
	Delta   string         `json:"delta,omitempty"`
	Sources []chunk.Source `json:"sources,omitempty"`
	Done    *DonePayload   `json:"done,omitempty"`
}

// ChunkEvent builds a partial-answer event.
func ChunkEvent(delta string) StreamEvent {
	return StreamEvent{Type: EventChunk, Delta: delta}
}

// SourcesEvent builds the final citation-list event.
func SourcesEvent(sources []chunk.Source) StreamEvent {
	return StreamEvent{Type: EventSources, Sources: sources}
}

// DoneEvent builds the terminal event.
func DoneEvent(queryID string, meta Metadata) StreamEvent {
	return StreamEvent{Type: EventDone, Done: &DonePayload{QueryID: queryID, Metadata: meta}}
}
