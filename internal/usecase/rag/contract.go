package rag

import (
	"context"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/querylog"
	domrag "github.com/lorekeep/lorekeep/internal/domain/rag"
	"github.com/lorekeep/lorekeep/internal/domain/search"
)

// Retriever runs passage search. It verifies campaign ownership before
// touching any backend.
type Retriever interface {
	Search(
		ctx context.Context, userID, campaignID, query string,
		mode search.Mode, topK int, filters search.Filters,
	) ([]chunk.Scored, error)
}

// Answerer generates grounded answers from retrieved chunks.
type Answerer interface {
	Generate(
		ctx context.Context, question string, chunks []chunk.Scored, history []domrag.Message,
	) (domain.GenerationResult, error)
	GenerateStream(
		ctx context.Context, question string, chunks []chunk.Scored, history []domrag.Message,
		onDelta func(delta string) error,
	) (domain.GenerationResult, error)
}

// QueryLog persists and mutates query log records.
type QueryLog interface {
	Insert(ctx context.Context, rec querylog.Record) error
	Get(ctx context.Context, id string) (querylog.Record, error)
	SetFeedback(ctx context.Context, id string, rating int, comment *string) error
}
