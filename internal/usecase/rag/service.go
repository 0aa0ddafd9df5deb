// Package rag orchestrates a full question/answer round: ownership check,
// hybrid retrieval, grounded generation, and the durable query log.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/querylog"
	domrag "github.com/lorekeep/lorekeep/internal/domain/rag"
	"github.com/lorekeep/lorekeep/internal/domain/search"
	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/metrics"
)

// logQuestionLimit caps the question length in failure logs.
const logQuestionLimit = 120

// Options tune a single query.
type Options struct {
	TopK           int
	ResourceIDs    []string
	ConversationID string
	History        []domrag.Message
}

// Service answers questions over a campaign's stored passages.
type Service struct {
	retriever Retriever
	answerer  Answerer
	log       QueryLog
	model     string // configured model name, fallback when the provider reports none
}

// New creates the query orchestrator. model is the configured generation
// model name used when the provider does not report one.
func New(retriever Retriever, answerer Answerer, log QueryLog, model string) *Service {
	return &Service{retriever: retriever, answerer: answerer, log: log, model: model}
}

// Query runs one batch question/answer round and returns the full response.
func (s *Service) Query(
	ctx context.Context, userID, campaignID, question string, opts Options,
) (domrag.Response, error) {
	start := time.Now()

	q, err := newQueryState(userID, campaignID, question, opts)
	if err != nil {
		return domrag.Response{}, err
	}

	chunks, searchLatency, err := s.retrieve(ctx, q)
	if err != nil {
		s.logRetrievalFailure(ctx, q, searchLatency, err)
		metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "error").Inc()
		return domrag.Response{}, err
	}

	if len(chunks) == 0 {
		resp := s.noResultsResponse(q, searchLatency, time.Since(start))
		s.persist(ctx, q, nil, resp.Answer, domrag.ModelNone, 0, 0, resp.Metadata.TotalLatencyMs)
		metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "no_results").Inc()
		return resp, nil
	}

	genStart := time.Now()
	result, err := s.answerer.Generate(ctx, q.question, chunks, q.history)
	if err != nil {
		s.logGenerationFailure(ctx, q, searchLatency, time.Since(genStart), err)
		metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "error").Inc()
		return domrag.Response{}, err
	}
	genLatency := time.Since(genStart)

	total := time.Since(start)
	model := s.reportedModel(result.Model)

	s.persist(ctx, q, chunks, result.Content, model,
		result.PromptTokens, result.CompletionTokens, total.Milliseconds())

	metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "answered").Inc()
	metrics.QueryPhaseDuration.WithLabelValues("total").Observe(total.Seconds())

	return domrag.Response{
		QueryID: q.id,
		Answer:  result.Content,
		Sources: chunk.SourcesFromScored(chunks),
		Metadata: domrag.Metadata{
			Model:               model,
			PromptTokens:        result.PromptTokens,
			CompletionTokens:    result.CompletionTokens,
			TotalLatencyMs:      total.Milliseconds(),
			SearchLatencyMs:     searchLatency.Milliseconds(),
			GenerationLatencyMs: genLatency.Milliseconds(),
			ChunksRetrieved:     len(chunks),
			ConversationID:      q.conversationID,
		},
	}, nil
}

// QueryStream runs one streaming question/answer round, pushing chunk events
// through emit as fragments arrive, then a sources event, then a terminal
// done event. Errors from emit abort the stream.
func (s *Service) QueryStream(
	ctx context.Context, userID, campaignID, question string, opts Options,
	emit func(domrag.StreamEvent) error,
) error {
	start := time.Now()

	q, err := newQueryState(userID, campaignID, question, opts)
	if err != nil {
		return err
	}

	chunks, searchLatency, err := s.retrieve(ctx, q)
	if err != nil {
		s.logRetrievalFailure(ctx, q, searchLatency, err)
		metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "error").Inc()
		return err
	}

	if len(chunks) == 0 {
		resp := s.noResultsResponse(q, searchLatency, time.Since(start))
		s.persist(ctx, q, nil, resp.Answer, domrag.ModelNone, 0, 0, resp.Metadata.TotalLatencyMs)
		metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "no_results").Inc()

		if err := emit(domrag.ChunkEvent(resp.Answer)); err != nil {
			return fmt.Errorf("emit chunk: %w", err)
		}
		if err := emit(domrag.SourcesEvent([]chunk.Source{})); err != nil {
			return fmt.Errorf("emit sources: %w", err)
		}
		if err := emit(domrag.DoneEvent(q.id, resp.Metadata)); err != nil {
			return fmt.Errorf("emit done: %w", err)
		}
		return nil
	}

	genStart := time.Now()
	result, err := s.answerer.GenerateStream(ctx, q.question, chunks, q.history, func(delta string) error {
		return emit(domrag.ChunkEvent(delta))
	})
	if err != nil {
		s.logGenerationFailure(ctx, q, searchLatency, time.Since(genStart), err)
		metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "error").Inc()
		return err
	}
	genLatency := time.Since(genStart)

	total := time.Since(start)
	model := s.reportedModel(result.Model)

	s.persist(ctx, q, chunks, result.Content, model,
		result.PromptTokens, result.CompletionTokens, total.Milliseconds())

	metrics.QueriesTotal.WithLabelValues(string(search.Hybrid), "answered").Inc()
	metrics.QueryPhaseDuration.WithLabelValues("total").Observe(total.Seconds())

	if err := emit(domrag.SourcesEvent(chunk.SourcesFromScored(chunks))); err != nil {
		return fmt.Errorf("emit sources: %w", err)
	}

	meta := domrag.Metadata{
		Model:               model,
		PromptTokens:        result.PromptTokens,
		CompletionTokens:    result.CompletionTokens,
		TotalLatencyMs:      total.Milliseconds(),
		SearchLatencyMs:     searchLatency.Milliseconds(),
		GenerationLatencyMs: genLatency.Milliseconds(),
		ChunksRetrieved:     len(chunks),
		ConversationID:      q.conversationID,
	}
	if err := emit(domrag.DoneEvent(q.id, meta)); err != nil {
		return fmt.Errorf("emit done: %w", err)
	}
	return nil
}

// Feedback records a 1–5 rating (and optional comment) against an answered
// query. Only the user who issued the query may rate it.
func (s *Service) Feedback(
	ctx context.Context, userID, queryID string, rating int, comment *string,
) error {
	if err := querylog.ValidateFeedback(rating, comment); err != nil {
		return err
	}

	rec, err := s.log.Get(ctx, queryID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return fmt.Errorf("%w: query %s", domain.ErrForbidden, queryID)
	}

	return s.log.SetFeedback(ctx, queryID, rating, comment)
}

// queryState carries the per-query identifiers threaded through one round.
type queryState struct {
	id             string
	userID         string
	campaignID     string
	question       string
	conversationID string
	topK           int
	filters        search.Filters
	history        []domrag.Message
}

func newQueryState(userID, campaignID, question string, opts Options) (*queryState, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidRequest)
	}

	filters, err := search.NewFilters(opts.ResourceIDs, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	return &queryState{
		id:             uuid.NewString(),
		userID:         userID,
		campaignID:     campaignID,
		question:       question,
		conversationID: conversationID,
		topK:           opts.TopK,
		filters:        filters,
		history:        opts.History,
	}, nil
}

func (s *Service) retrieve(ctx context.Context, q *queryState) ([]chunk.Scored, time.Duration, error) {
	searchStart := time.Now()
	chunks, err := s.retriever.Search(ctx, q.userID, q.campaignID, q.question, search.Hybrid, q.topK, q.filters)
	return chunks, time.Since(searchStart), err
}

func (s *Service) noResultsResponse(q *queryState, searchLatency, total time.Duration) domrag.Response {
	return domrag.Response{
		QueryID: q.id,
		Answer:  domrag.NoResultsAnswer,
		Sources: []chunk.Source{},
		Metadata: domrag.Metadata{
			Model:           domrag.ModelNone,
			TotalLatencyMs:  total.Milliseconds(),
			SearchLatencyMs: searchLatency.Milliseconds(),
			ChunksRetrieved: 0,
			ConversationID:  q.conversationID,
		},
	}
}

// persist writes the query log row. The answer was already produced, so a
// failed write is logged and swallowed rather than failing the whole query.
func (s *Service) persist(
	ctx context.Context, q *queryState, chunks []chunk.Scored,
	answer, model string, promptTokens, completionTokens int, latencyMs int64,
) {
	refs := make([]querylog.ChunkRef, len(chunks))
	for i, c := range chunks {
		refs[i] = querylog.ChunkRef{ChunkID: c.ID, Score: c.Score}
	}

	rec := querylog.Record{
		ID:               q.id,
		CampaignID:       q.campaignID,
		UserID:           q.userID,
		Question:         q.question,
		Chunks:           refs,
		Answer:           answer,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LatencyMs:        latencyMs,
		ConversationID:   q.conversationID,
	}

	if err := s.log.Insert(ctx, rec); err != nil {
		logger.FromContext(ctx).Warn("query log write failed",
			zap.String("query_id", q.id),
			zap.String("campaign_id", q.campaignID),
			zap.Error(err))
	}
}

func (s *Service) reportedModel(model string) string {
	if model != "" {
		return model
	}
	return s.model
}

func (s *Service) logRetrievalFailure(
	ctx context.Context, q *queryState, searchLatency time.Duration, err error,
) {
	logger.FromContext(ctx).Error("retrieval failed",
		zap.String("query_id", q.id),
		zap.String("campaign_id", q.campaignID),
		zap.String("question", truncateForLog(q.question)),
		zap.Duration("search_latency", searchLatency),
		zap.Error(err))
}

func (s *Service) logGenerationFailure(
	ctx context.Context, q *queryState, searchLatency, genLatency time.Duration, err error,
) {
	logger.FromContext(ctx).Error("generation failed after retrieval",
		zap.String("query_id", q.id),
		zap.String("campaign_id", q.campaignID),
		zap.String("question", truncateForLog(q.question)),
		zap.Duration("search_latency", searchLatency),
		zap.Duration("generation_latency", genLatency),
		zap.Error(err))
}

func truncateForLog(s string) string {
	if len(s) <= logQuestionLimit {
		return s
	}
	return s[:logQuestionLimit] + "…"
}
