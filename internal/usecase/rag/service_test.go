package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/querylog"
	domrag "github.com/lorekeep/lorekeep/internal/domain/rag"
	"github.com/lorekeep/lorekeep/internal/domain/search"
	"github.com/lorekeep/lorekeep/internal/logger"
)

type mockRetriever struct {
	searchFn func(ctx context.Context, userID, campaignID, query string, mode search.Mode, topK int, filters search.Filters) ([]chunk.Scored, error)
	calls    int
}

func (m *mockRetriever) Search(ctx context.Context, userID, campaignID, query string, mode search.Mode, topK int, filters search.Filters) ([]chunk.Scored, error) {
	m.calls++
	return m.searchFn(ctx, userID, campaignID, query, mode, topK, filters)
}

type mockAnswerer struct {
	generateFn func(ctx context.Context, question string, chunks []chunk.Scored, history []domrag.Message) (domain.GenerationResult, error)
	streamFn   func(ctx context.Context, question string, chunks []chunk.Scored, history []domrag.Message, onDelta func(string) error) (domain.GenerationResult, error)

	generateCalls int
	streamCalls   int
}

func (m *mockAnswerer) Generate(ctx context.Context, question string, chunks []chunk.Scored, history []domrag.Message) (domain.GenerationResult, error) {
	m.generateCalls++
	if m.generateFn != nil {
		return m.generateFn(ctx, question, chunks, history)
	}
	return domain.GenerationResult{Content: "answer"}, nil
}

func (m *mockAnswerer) GenerateStream(ctx context.Context, question string, chunks []chunk.Scored, history []domrag.Message, onDelta func(string) error) (domain.GenerationResult, error) {
	m.streamCalls++
	if m.streamFn != nil {
		return m.streamFn(ctx, question, chunks, history, onDelta)
	}
	return domain.GenerationResult{Content: "answer"}, nil
}

type mockQueryLog struct {
	insertFn      func(ctx context.Context, rec querylog.Record) error
	getFn         func(ctx context.Context, id string) (querylog.Record, error)
	setFeedbackFn func(ctx context.Context, id string, rating int, comment *string) error

	inserted      []querylog.Record
	feedbackCalls int
}

func (m *mockQueryLog) Insert(ctx context.Context, rec querylog.Record) error {
	m.inserted = append(m.inserted, rec)
	if m.insertFn != nil {
		return m.insertFn(ctx, rec)
	}
	return nil
}

func (m *mockQueryLog) Get(ctx context.Context, id string) (querylog.Record, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return querylog.Record{}, domain.ErrNotFound
}

func (m *mockQueryLog) SetFeedback(ctx context.Context, id string, rating int, comment *string) error {
	m.feedbackCalls++
	if m.setFeedbackFn != nil {
		return m.setFeedbackFn(ctx, id, rating, comment)
	}
	return nil
}

func retrieverReturning(chunks []chunk.Scored, err error) *mockRetriever {
	return &mockRetriever{
		searchFn: func(context.Context, string, string, string, search.Mode, int, search.Filters) ([]chunk.Scored, error) {
			return chunks, err
		},
	}
}

func twoChunks() []chunk.Scored {
	return []chunk.Scored{
		{ID: "c1", Content: strings.Repeat("a", 300), Score: 0.031, Provenance: chunk.ProvenanceHybrid},
		{ID: "c2", Content: "short", Score: 0.016, Provenance: chunk.ProvenanceHybrid},
	}
}

func TestQuery_AnsweredPath(t *testing.T) {
	retriever := retrieverReturning(twoChunks(), nil)
	answerer := &mockAnswerer{
		generateFn: func(_ context.Context, question string, chunks []chunk.Scored, _ []domrag.Message) (domain.GenerationResult, error) {
			if question != "Where is the temple?" {
				t.Errorf("question = %q", question)
			}
			if len(chunks) != 2 {
				t.Errorf("chunks = %d, want 2", len(chunks))
			}
			return domain.GenerationResult{
				Content: "In the swamp. [Page 14, The Sunken Temple]",
				Model:   "provider-model", PromptTokens: 200, CompletionTokens: 20,
			}, nil
		},
	}
	log := &mockQueryLog{}

	svc := New(retriever, answerer, log, "configured-model")

	resp, err := svc.Query(context.Background(), "user-1", "camp-1", "Where is the temple?", Options{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if resp.QueryID == "" {
		t.Error("QueryID not assigned")
	}
	if resp.Answer == "" || resp.Metadata.Model != "provider-model" {
		t.Errorf("answer/model = %q/%q", resp.Answer, resp.Metadata.Model)
	}
	if resp.Metadata.ConversationID == "" {
		t.Error("ConversationID not minted")
	}
	if resp.Metadata.ChunksRetrieved != 2 {
		t.Errorf("ChunksRetrieved = %d", resp.Metadata.ChunksRetrieved)
	}

	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(resp.Sources))
	}
	if resp.Sources[0].Rank != 1 || resp.Sources[1].Rank != 2 {
		t.Errorf("source ranks = %d/%d", resp.Sources[0].Rank, resp.Sources[1].Rank)
	}
	if len(resp.Sources[0].Preview) > chunk.PreviewLength {
		t.Errorf("preview exceeds %d chars", chunk.PreviewLength)
	}

	if len(log.inserted) != 1 {
		t.Fatalf("query log writes = %d, want 1", len(log.inserted))
	}
	rec := log.inserted[0]
	if rec.ID != resp.QueryID || rec.Model != "provider-model" {
		t.Errorf("record id/model = %q/%q", rec.ID, rec.Model)
	}
	if len(rec.Chunks) != 2 || rec.Chunks[0].ChunkID != "c1" || rec.Chunks[1].ChunkID != "c2" {
		t.Errorf("chunk refs = %+v", rec.Chunks)
	}
	if rec.PromptTokens != 200 || rec.CompletionTokens != 20 {
		t.Errorf("tokens = %d/%d", rec.PromptTokens, rec.CompletionTokens)
	}
}

func TestQuery_ZeroChunksSkipsGeneration(t *testing.T) {
	retriever := retrieverReturning(nil, nil)
	answerer := &mockAnswerer{}
	log := &mockQueryLog{}

	svc := New(retriever, answerer, log, "configured-model")

	resp, err := svc.Query(context.Background(), "user-1", "camp-1", "anything?", Options{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if answerer.generateCalls != 0 {
		t.Errorf("generation called %d times on zero chunks, want 0", answerer.generateCalls)
	}
	if resp.Answer != domrag.NoResultsAnswer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Metadata.Model != domrag.ModelNone {
		t.Errorf("model = %q, want none", resp.Metadata.Model)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(resp.Sources))
	}
	if resp.Metadata.ConversationID == "" {
		t.Error("ConversationID not assigned on short circuit")
	}

	// Query log still written, one record, model "none".
	if len(log.inserted) != 1 {
		t.Fatalf("query log writes = %d, want 1", len(log.inserted))
	}
	if log.inserted[0].Model != domrag.ModelNone {
		t.Errorf("logged model = %q", log.inserted[0].Model)
	}
}

func TestQuery_PropagatesConversationID(t *testing.T) {
	retriever := retrieverReturning(nil, nil)
	svc := New(retriever, &mockAnswerer{}, &mockQueryLog{}, "m")

	resp, err := svc.Query(context.Background(), "user-1", "camp-1", "q", Options{ConversationID: "conv-7"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Metadata.ConversationID != "conv-7" {
		t.Errorf("ConversationID = %q, want conv-7", resp.Metadata.ConversationID)
	}
}

func TestQuery_ModelFallsBackToConfigured(t *testing.T) {
	retriever := retrieverReturning(twoChunks(), nil)
	answerer := &mockAnswerer{
		generateFn: func(context.Context, string, []chunk.Scored, []domrag.Message) (domain.GenerationResult, error) {
			return domain.GenerationResult{Content: "answer", Model: ""}, nil
		},
	}

	svc := New(retriever, answerer, &mockQueryLog{}, "configured-model")

	resp, err := svc.Query(context.Background(), "user-1", "camp-1", "q", Options{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Metadata.Model != "configured-model" {
		t.Errorf("model = %q, want configured-model", resp.Metadata.Model)
	}
}

func TestQuery_RetrievalFailureAbortsBeforeGeneration(t *testing.T) {
	retriever := retrieverReturning(nil, domain.ErrForbidden)
	answerer := &mockAnswerer{}
	log := &mockQueryLog{}

	svc := New(retriever, answerer, log, "m")

	_, err := svc.Query(context.Background(), "user-1", "camp-1", "q", Options{})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if answerer.generateCalls != 0 || len(log.inserted) != 0 {
		t.Errorf("work performed after retrieval failure")
	}
}

func TestQuery_RetrievalFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	ctx := logger.ContextWithLogger(context.Background(), zap.New(core))

	retriever := retrieverReturning(nil, domain.ErrBackendFailure)
	svc := New(retriever, &mockAnswerer{}, &mockQueryLog{}, "m")

	longQuestion := strings.Repeat("w", 400)
	_, err := svc.Query(ctx, "user-1", "camp-1", longQuestion, Options{})
	if !errors.Is(err, domain.ErrBackendFailure) {
		t.Fatalf("expected ErrBackendFailure, got %v", err)
	}

	entries := logs.FilterMessage("retrieval failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 failure log entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	question, _ := fields["question"].(string)
	if question == "" || len(question) > logQuestionLimit+len("…") {
		t.Errorf("question not truncated in log: %d chars", len(question))
	}
	if _, ok := fields["search_latency"]; !ok {
		t.Errorf("search latency missing from failure log: %v", fields)
	}
}

func TestQuery_GenerationFailurePropagates(t *testing.T) {
	retriever := retrieverReturning(twoChunks(), nil)
	answerer := &mockAnswerer{
		generateFn: func(context.Context, string, []chunk.Scored, []domrag.Message) (domain.GenerationResult, error) {
			return domain.GenerationResult{}, domain.ErrGenerationFailure
		},
	}
	log := &mockQueryLog{}

	svc := New(retriever, answerer, log, "m")

	_, err := svc.Query(context.Background(), "user-1", "camp-1", "q", Options{})
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("expected ErrGenerationFailure, got %v", err)
	}
	if len(log.inserted) != 0 {
		t.Errorf("query log written for failed generation")
	}
}

func TestQuery_RejectsEmptyQuestion(t *testing.T) {
	retriever := &mockRetriever{}
	svc := New(retriever, &mockAnswerer{}, &mockQueryLog{}, "m")

	_, err := svc.Query(context.Background(), "user-1", "camp-1", "  ", Options{})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if retriever.calls != 0 {
		t.Error("retriever touched for empty question")
	}
}

func TestQueryStream_EventOrdering(t *testing.T) {
	retriever := retrieverReturning(twoChunks(), nil)
	answerer := &mockAnswerer{
		streamFn: func(_ context.Context, _ string, _ []chunk.Scored, _ []domrag.Message, onDelta func(string) error) (domain.GenerationResult, error) {
			for _, d := range []string{"The ", "answer."} {
				if err := onDelta(d); err != nil {
					return domain.GenerationResult{}, err
				}
			}
			return domain.GenerationResult{Content: "The answer.", Model: "m1", PromptTokens: 80, CompletionTokens: 4}, nil
		},
	}
	log := &mockQueryLog{}

	svc := New(retriever, answerer, log, "m")

	var events []domrag.StreamEvent
	err := svc.QueryStream(context.Background(), "user-1", "camp-1", "q", Options{}, func(ev domrag.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryStream failed: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Type != domrag.EventChunk || events[1].Type != domrag.EventChunk {
		t.Errorf("leading events not chunks: %v %v", events[0].Type, events[1].Type)
	}
	if events[2].Type != domrag.EventSources {
		t.Errorf("event 3 = %v, want sources", events[2].Type)
	}
	if events[3].Type != domrag.EventDone {
		t.Errorf("event 4 = %v, want done", events[3].Type)
	}

	done := events[3].Done
	if done == nil || done.QueryID == "" {
		t.Fatal("done event missing query id")
	}
	if done.Metadata.Model != "m1" || done.Metadata.CompletionTokens != 4 {
		t.Errorf("done metadata = %+v", done.Metadata)
	}
	if len(events[2].Sources) != 2 {
		t.Errorf("sources event carries %d sources, want 2", len(events[2].Sources))
	}

	if len(log.inserted) != 1 || log.inserted[0].Answer != "The answer." {
		t.Errorf("query log = %+v", log.inserted)
	}
}

func TestQueryStream_ZeroChunks(t *testing.T) {
	retriever := retrieverReturning(nil, nil)
	answerer := &mockAnswerer{}
	log := &mockQueryLog{}

	svc := New(retriever, answerer, log, "m")

	var events []domrag.StreamEvent
	err := svc.QueryStream(context.Background(), "user-1", "camp-1", "q", Options{}, func(ev domrag.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryStream failed: %v", err)
	}

	if answerer.streamCalls != 0 {
		t.Errorf("generation called on zero chunks")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != domrag.EventChunk || events[0].Delta != domrag.NoResultsAnswer {
		t.Errorf("event 1 = %+v", events[0])
	}
	if events[1].Type != domrag.EventSources || len(events[1].Sources) != 0 {
		t.Errorf("event 2 = %+v", events[1])
	}
	if events[2].Type != domrag.EventDone || events[2].Done.Metadata.Model != domrag.ModelNone {
		t.Errorf("event 3 = %+v", events[2])
	}
	if len(log.inserted) != 1 {
		t.Errorf("query log writes = %d, want 1", len(log.inserted))
	}
}

func TestQueryStream_EmitErrorAborts(t *testing.T) {
	retriever := retrieverReturning(twoChunks(), nil)
	answerer := &mockAnswerer{
		streamFn: func(_ context.Context, _ string, _ []chunk.Scored, _ []domrag.Message, onDelta func(string) error) (domain.GenerationResult, error) {
			if err := onDelta("partial"); err != nil {
				return domain.GenerationResult{}, err
			}
			t.Error("stream continued after emit error")
			return domain.GenerationResult{}, nil
		},
	}

	svc := New(retriever, answerer, &mockQueryLog{}, "m")

	wantErr := errors.New("client gone")
	err := svc.QueryStream(context.Background(), "user-1", "camp-1", "q", Options{}, func(domrag.StreamEvent) error {
		return wantErr
	})
	if err == nil {
		t.Fatal("expected error when emit fails")
	}
}

func TestFeedback(t *testing.T) {
	comment := "very helpful"

	tests := []struct {
		name    string
		userID  string
		rating  int
		comment *string
		getFn   func(ctx context.Context, id string) (querylog.Record, error)
		wantErr error
		wantSet int
	}{
		{
			name:   "owner can rate",
			userID: "user-1",
			rating: 5,
			getFn: func(context.Context, string) (querylog.Record, error) {
				return querylog.Record{ID: "q1", UserID: "user-1"}, nil
			},
			wantSet: 1,
		},
		{
			name:    "owner with comment",
			userID:  "user-1",
			rating:  2,
			comment: &comment,
			getFn: func(context.Context, string) (querylog.Record, error) {
				return querylog.Record{ID: "q1", UserID: "user-1"}, nil
			},
			wantSet: 1,
		},
		{
			name:   "non-owner forbidden",
			userID: "user-2",
			rating: 5,
			getFn: func(context.Context, string) (querylog.Record, error) {
				return querylog.Record{ID: "q1", UserID: "user-1"}, nil
			},
			wantErr: domain.ErrForbidden,
		},
		{
			name:   "missing query",
			userID: "user-1",
			rating: 5,
			getFn: func(context.Context, string) (querylog.Record, error) {
				return querylog.Record{}, domain.ErrNotFound
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "rating out of range",
			userID:  "user-1",
			rating:  6,
			wantErr: domain.ErrInvalidRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log := &mockQueryLog{getFn: tc.getFn}
			svc := New(retrieverReturning(nil, nil), &mockAnswerer{}, log, "m")

			err := svc.Feedback(context.Background(), tc.userID, "q1", tc.rating, tc.comment)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("Feedback failed: %v", err)
			}

			if log.feedbackCalls != tc.wantSet {
				t.Errorf("SetFeedback calls = %d, want %d", log.feedbackCalls, tc.wantSet)
			}
		})
	}
}
