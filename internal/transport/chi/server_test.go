package chi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	domrag "github.com/lorekeep/lorekeep/internal/domain/rag"
	"github.com/lorekeep/lorekeep/internal/domain/search"
	healthuc "github.com/lorekeep/lorekeep/internal/usecase/health"
	raguc "github.com/lorekeep/lorekeep/internal/usecase/rag"
)

type mockRAG struct {
	queryFn    func(ctx context.Context, userID, campaignID, question string, opts raguc.Options) (domrag.Response, error)
	streamFn   func(ctx context.Context, userID, campaignID, question string, opts raguc.Options, emit func(domrag.StreamEvent) error) error
	feedbackFn func(ctx context.Context, userID, queryID string, rating int, comment *string) error
}

func (m *mockRAG) Query(ctx context.Context, userID, campaignID, question string, opts raguc.Options) (domrag.Response, error) {
	return m.queryFn(ctx, userID, campaignID, question, opts)
}

func (m *mockRAG) QueryStream(ctx context.Context, userID, campaignID, question string, opts raguc.Options, emit func(domrag.StreamEvent) error) error {
	return m.streamFn(ctx, userID, campaignID, question, opts, emit)
}

func (m *mockRAG) Feedback(ctx context.Context, userID, queryID string, rating int, comment *string) error {
	return m.feedbackFn(ctx, userID, queryID, rating, comment)
}

type mockSearch struct {
	searchFn func(ctx context.Context, userID, campaignID, query string, mode search.Mode, topK int, filters search.Filters) ([]chunk.Scored, error)
}

func (m *mockSearch) Search(ctx context.Context, userID, campaignID, query string, mode search.Mode, topK int, filters search.Filters) ([]chunk.Scored, error) {
	return m.searchFn(ctx, userID, campaignID, query, mode, topK, filters)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(_ context.Context) healthuc.Report { return m.report }

func newTestRouter(rag RAGService, searchSvc SearchService, health HealthService) *gochi.Mux {
	r := gochi.NewRouter()
	NewServer(rag, searchSvc, health, zap.NewNop()).Register(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestQuery_OK(t *testing.T) {
	rag := &mockRAG{
		queryFn: func(_ context.Context, userID, campaignID, question string, opts raguc.Options) (domrag.Response, error) {
			if userID != "user-1" || campaignID != "camp-1" {
				t.Errorf("identity = %q/%q", userID, campaignID)
			}
			if question != "Where is the temple?" {
				t.Errorf("question = %q", question)
			}
			if opts.TopK != 5 || opts.ConversationID != "conv-1" {
				t.Errorf("opts = %+v", opts)
			}
			return domrag.Response{
				QueryID: "q1",
				Answer:  "In the swamp.",
				Sources: []chunk.Source{{ID: "c1", Rank: 1}},
				Metadata: domrag.Metadata{
					Model:           "m1",
					ChunksRetrieved: 1,
					ConversationID:  "conv-1",
				},
			}, nil
		},
	}

	router := newTestRouter(rag, &mockSearch{}, &mockHealth{})

	body := `{"question":"Where is the temple?","top_k":5,"conversation_id":"conv-1"}`
	rr := postJSON(t, router, "/v1/campaigns/camp-1/query", "user-1", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domrag.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.QueryID != "q1" || resp.Answer != "In the swamp." {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Rank != 1 {
		t.Errorf("sources = %+v", resp.Sources)
	}
}

func TestQuery_RequiresUserHeader(t *testing.T) {
	router := newTestRouter(&mockRAG{}, &mockSearch{}, &mockHealth{})

	rr := postJSON(t, router, "/v1/campaigns/camp-1/query", "", `{"question":"q"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, codeForbidden},
		{"not found", domain.ErrNotFound, http.StatusNotFound, codeNotFound},
		{"invalid", fmt.Errorf("%w: empty question", domain.ErrInvalidRequest), http.StatusBadRequest, codeValidationFailed},
		{"generation", domain.ErrGenerationFailure, http.StatusBadGateway, codeGenerationError},
		{"backend", fmt.Errorf("%w: FT.SEARCH: connection refused to 10.0.0.5", domain.ErrBackendFailure), http.StatusBadGateway, codeBackendError},
		{"embedding", domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rag := &mockRAG{
				queryFn: func(context.Context, string, string, string, raguc.Options) (domrag.Response, error) {
					return domrag.Response{}, tc.err
				},
			}
			router := newTestRouter(rag, &mockSearch{}, &mockHealth{})

			rr := postJSON(t, router, "/v1/campaigns/camp-1/query", "user-1", `{"question":"q"}`)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}

			var envelope errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode error envelope: %v", err)
			}
			if envelope.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", envelope.Code, tc.wantCode)
			}
			// 502s must not leak upstream detail.
			if tc.wantStatus == http.StatusBadGateway && strings.Contains(envelope.Message, "10.0.0.5") {
				t.Errorf("internal detail leaked: %q", envelope.Message)
			}
		})
	}
}

func TestQueryStream_SSE(t *testing.T) {
	rag := &mockRAG{
		streamFn: func(_ context.Context, _, _, _ string, _ raguc.Options, emit func(domrag.StreamEvent) error) error {
			for _, ev := range []domrag.StreamEvent{
				domrag.ChunkEvent("The "),
				domrag.ChunkEvent("answer."),
				domrag.SourcesEvent([]chunk.Source{{ID: "c1", Rank: 1}}),
				domrag.DoneEvent("q1", domrag.Metadata{Model: "m1"}),
			} {
				if err := emit(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}

	router := newTestRouter(rag, &mockSearch{}, &mockHealth{})
	rr := postJSON(t, router, "/v1/campaigns/camp-1/query/stream", "user-1", `{"question":"q"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rr.Body.String()
	wantOrder := []string{"event: chunk", "event: chunk", "event: sources", "event: done"}
	rest := body
	for _, marker := range wantOrder {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			t.Fatalf("missing %q after position %d in body:\n%s", marker, len(body)-len(rest), body)
		}
		rest = rest[idx+len(marker):]
	}

	if !strings.Contains(body, `"query_id":"q1"`) {
		t.Errorf("done payload missing query id:\n%s", body)
	}
}

func TestQueryStream_PreStreamErrorIsJSON(t *testing.T) {
	rag := &mockRAG{
		streamFn: func(context.Context, string, string, string, raguc.Options, func(domrag.StreamEvent) error) error {
			return domain.ErrForbidden
		},
	}

	router := newTestRouter(rag, &mockSearch{}, &mockHealth{})
	rr := postJSON(t, router, "/v1/campaigns/camp-1/query/stream", "user-1", `{"question":"q"}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestQueryStream_MidStreamErrorEvent(t *testing.T) {
	rag := &mockRAG{
		streamFn: func(_ context.Context, _, _, _ string, _ raguc.Options, emit func(domrag.StreamEvent) error) error {
			if err := emit(domrag.ChunkEvent("partial")); err != nil {
				return err
			}
			return fmt.Errorf("%w: provider hung up", domain.ErrGenerationFailure)
		},
	}

	router := newTestRouter(rag, &mockSearch{}, &mockHealth{})
	rr := postJSON(t, router, "/v1/campaigns/camp-1/query/stream", "user-1", `{"question":"q"}`)

	body := rr.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Fatalf("missing error event:\n%s", body)
	}
	if strings.Contains(body, "provider hung up") {
		t.Errorf("internal detail leaked:\n%s", body)
	}
}

func TestSearch_OK(t *testing.T) {
	page := 14
	searchSvc := &mockSearch{
		searchFn: func(_ context.Context, userID, campaignID, query string, mode search.Mode, topK int, filters search.Filters) ([]chunk.Scored, error) {
			if mode != search.Keyword {
				t.Errorf("mode = %q", mode)
			}
			if topK != 3 {
				t.Errorf("topK = %d", topK)
			}
			if len(filters.ResourceIDs) != 1 || filters.ResourceIDs[0] != "res-1" {
				t.Errorf("filters = %+v", filters)
			}
			return []chunk.Scored{
				{ID: "c1", ResourceID: "res-1", Content: "text", Page: &page, Score: 2.5, Provenance: chunk.ProvenanceKeyword},
			}, nil
		},
	}

	router := newTestRouter(&mockRAG{}, searchSvc, &mockHealth{})

	body := `{"query":"dragons","mode":"keyword","top_k":3,"resource_ids":["res-1"]}`
	rr := postJSON(t, router, "/v1/campaigns/camp-1/search", "user-1", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp searchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].Provenance != "keyword" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Items[0].Page == nil || *resp.Items[0].Page != 14 {
		t.Errorf("page = %v", resp.Items[0].Page)
	}
}

func TestSearch_DefaultsToHybrid(t *testing.T) {
	var gotMode search.Mode
	searchSvc := &mockSearch{
		searchFn: func(_ context.Context, _, _, _ string, mode search.Mode, _ int, _ search.Filters) ([]chunk.Scored, error) {
			gotMode = mode
			return nil, nil
		},
	}

	router := newTestRouter(&mockRAG{}, searchSvc, &mockHealth{})
	rr := postJSON(t, router, "/v1/campaigns/camp-1/search", "user-1", `{"query":"dragons"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotMode != search.Hybrid {
		t.Errorf("mode = %q, want hybrid", gotMode)
	}
}

func TestSearch_OversizedFilterRejected(t *testing.T) {
	router := newTestRouter(&mockRAG{}, &mockSearch{}, &mockHealth{})

	ids := make([]string, 33)
	for i := range ids {
		ids[i] = fmt.Sprintf("res-%d", i)
	}
	payload, _ := json.Marshal(map[string]any{"query": "q", "resource_ids": ids})

	rr := postJSON(t, router, "/v1/campaigns/camp-1/search", "user-1", string(payload))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestFeedback_NoContent(t *testing.T) {
	var gotRating int
	var gotComment *string

	rag := &mockRAG{
		feedbackFn: func(_ context.Context, userID, queryID string, rating int, comment *string) error {
			if userID != "user-1" || queryID != "q1" {
				t.Errorf("identity = %q/%q", userID, queryID)
			}
			gotRating, gotComment = rating, comment
			return nil
		},
	}

	router := newTestRouter(rag, &mockSearch{}, &mockHealth{})
	rr := postJSON(t, router, "/v1/queries/q1/feedback", "user-1", `{"rating":5,"comment":"helpful"}`)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotRating != 5 || gotComment == nil || *gotComment != "helpful" {
		t.Errorf("feedback = %d/%v", gotRating, gotComment)
	}
}

func TestFeedback_NonOwnerForbidden(t *testing.T) {
	rag := &mockRAG{
		feedbackFn: func(context.Context, string, string, int, *string) error {
			return domain.ErrForbidden
		},
	}

	router := newTestRouter(rag, &mockSearch{}, &mockHealth{})
	rr := postJSON(t, router, "/v1/queries/q1/feedback", "user-2", `{"rating":5}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		report     healthuc.Report
		wantStatus int
	}{
		{
			"healthy",
			healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"passages": healthuc.CheckOK}},
			http.StatusOK,
		},
		{
			"degraded",
			healthuc.Report{Status: healthuc.Degraded, Checks: map[string]healthuc.CheckResult{"passages": healthuc.CheckError}},
			http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&mockRAG{}, &mockSearch{}, &mockHealth{report: tc.report})

			req := httptest.NewRequest("GET", "/health", http.NoBody)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}
