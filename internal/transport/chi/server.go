// Package chi exposes the question/answer API over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	domrag "github.com/lorekeep/lorekeep/internal/domain/rag"
	"github.com/lorekeep/lorekeep/internal/domain/search"
	healthuc "github.com/lorekeep/lorekeep/internal/usecase/health"
	raguc "github.com/lorekeep/lorekeep/internal/usecase/rag"
)

// userIDHeader carries the authenticated user id, set by the upstream
// gateway after session validation.
const userIDHeader = "X-User-ID"

// Error reason codes. Stable values, clients switch on them.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeNotFound          = "not_found"
	codeBackendError      = "backend_error"
	codeEmbeddingProvider = "embedding_provider_error"
	codeGenerationError   = "generation_error"
	codeInternalError     = "internal_error"
)

// RAGService answers questions and records feedback.
type RAGService interface {
	Query(ctx context.Context, userID, campaignID, question string, opts raguc.Options) (domrag.Response, error)
	QueryStream(ctx context.Context, userID, campaignID, question string, opts raguc.Options, emit func(domrag.StreamEvent) error) error
	Feedback(ctx context.Context, userID, queryID string, rating int, comment *string) error
}

// SearchService runs retrieval without generation.
type SearchService interface {
	Search(ctx context.Context, userID, campaignID, query string, mode search.Mode, topK int, filters search.Filters) ([]chunk.Scored, error)
}

// HealthService aggregates component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server is the HTTP API server.
type Server struct {
	rag           RAGService
	search        SearchService
	health        HealthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(rag RAGService, searchSvc SearchService, health HealthService, logger *zap.Logger) *Server {
	s := &Server{
		rag:    rag,
		search: searchSvc,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, codeValidationFailed, ""),
		sentinelHandler(domain.ErrForbidden, http.StatusForbidden, codeForbidden, "access denied"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound, "not found"),
		// Upstream failures map to 502 with a generic message so provider
		// internals never leak to clients.
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider, "embedding provider unavailable"),
		sentinelHandler(domain.ErrGenerationFailure, http.StatusBadGateway, codeGenerationError, "answer generation failed"),
		sentinelHandler(domain.ErrBackendFailure, http.StatusBadGateway, codeBackendError, "search backend unavailable"),
	}
	return s
}

// Register mounts the API routes on the given router.
func (s *Server) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Post("/query", s.handleQuery)
			r.Post("/query/stream", s.handleQueryStream)
			r.Post("/search", s.handleSearch)
		})
		r.Post("/queries/{queryID}/feedback", s.handleFeedback)
	})
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

type queryRequest struct {
	Question       string           `json:"question"`
	TopK           int              `json:"top_k"`
	ResourceIDs    []string         `json:"resource_ids"`
	ConversationID string           `json:"conversation_id"`
	History        []domrag.Message `json:"history"`
}

func (r queryRequest) options() raguc.Options {
	return raguc.Options{
		TopK:           r.TopK,
		ResourceIDs:    r.ResourceIDs,
		ConversationID: r.ConversationID,
		History:        r.History,
	}
}

// handleQuery handles POST /v1/campaigns/{campaignID}/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := s.rag.Query(r.Context(), userID, chi.URLParam(r, "campaignID"), req.Question, req.options())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleQueryStream handles POST /v1/campaigns/{campaignID}/query/stream,
// delivering the answer as server-sent events.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}

	started := false
	emit := func(ev domrag.StreamEvent) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		flusher.Flush()
		return nil
	}

	err := s.rag.QueryStream(r.Context(), userID, chi.URLParam(r, "campaignID"), req.Question, req.options(), emit)
	if err == nil {
		return
	}

	if !started {
		s.handleDomainError(w, err)
		return
	}

	// Headers are gone; the best we can do is a terminal error event.
	s.logger.Warn("stream aborted", zap.Error(err))
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", streamErrorBody(err))
	flusher.Flush()
}

// streamErrorBody renders the generic error envelope for a mid-stream failure.
func streamErrorBody(err error) []byte {
	code := codeInternalError
	message := "internal error"
	switch {
	case errors.Is(err, domain.ErrGenerationFailure):
		code, message = codeGenerationError, "answer generation failed"
	case errors.Is(err, domain.ErrBackendFailure):
		code, message = codeBackendError, "search backend unavailable"
	}
	data, _ := json.Marshal(errorResponse{Code: code, Message: message})
	return data
}

type searchRequest struct {
	Query       string   `json:"query"`
	Mode        string   `json:"mode"`
	TopK        int      `json:"top_k"`
	ResourceIDs []string `json:"resource_ids"`
	Pages       []int    `json:"pages"`
	Tags        []string `json:"tags"`
}

type searchResultItem struct {
	ID         string  `json:"id"`
	ResourceID string  `json:"resource_id"`
	Content    string  `json:"content"`
	Page       *int    `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Score      float64 `json:"score"`
	Provenance string  `json:"provenance"`
}

type searchResponse struct {
	Items []searchResultItem `json:"items"`
	Total int                `json:"total"`
}

// handleSearch handles POST /v1/campaigns/{campaignID}/search: retrieval
// without generation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	mode := search.Hybrid
	if req.Mode != "" {
		mode = search.Mode(req.Mode)
	}

	filters, err := search.NewFilters(req.ResourceIDs, req.Pages, req.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	results, err := s.search.Search(r.Context(), userID, chi.URLParam(r, "campaignID"), req.Query, mode, req.TopK, filters)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]searchResultItem, len(results))
	for i, c := range results {
		items[i] = searchResultItem{
			ID:         c.ID,
			ResourceID: c.ResourceID,
			Content:    c.Content,
			Page:       c.Page,
			Section:    c.Section,
			Filename:   c.Filename,
			Score:      c.Score,
			Provenance: string(c.Provenance),
		}
	}

	writeJSON(w, http.StatusOK, searchResponse{Items: items, Total: len(items)})
}

type feedbackRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment"`
}

// handleFeedback handles POST /v1/queries/{queryID}/feedback.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := s.rag.Feedback(r.Context(), userID, chi.URLParam(r, "queryID"), req.Rating, req.Comment); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing "+userIDHeader+" header")
		return "", false
	}
	return userID, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// sentinelHandler returns an errorHandler that matches one sentinel error.
// With an empty message the sentinel chain of the wrapped error is exposed;
// that only happens for validation errors, which carry no internals.
func sentinelHandler(sentinel error, status int, code, message string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
