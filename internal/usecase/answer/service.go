// Package answer turns retrieved passages into a grounded, cited answer via
// the completion provider.
package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/rag"
)

// Service builds grounded prompts and runs batch or streaming generation.
type Service struct {
	gen Generator
}

// New creates an answer service.
func New(gen Generator) *Service {
	return &Service{gen: gen}
}

// Generate produces a complete answer grounded in the given chunks.
func (s *Service) Generate(
	ctx context.Context, question string, chunks []chunk.Scored, history []rag.Message,
) (domain.GenerationResult, error) {
	result, err := s.gen.Complete(ctx, buildMessages(question, chunks, history))
	if err != nil {
		return domain.GenerationResult{}, wrapGeneration(err)
	}
	return result, nil
}

// GenerateStream produces an answer incrementally, invoking onDelta per
// content fragment, and returns the accumulated result when the stream ends.
func (s *Service) GenerateStream(
	ctx context.Context, question string, chunks []chunk.Scored, history []rag.Message,
	onDelta func(delta string) error,
) (domain.GenerationResult, error) {
	result, err := s.gen.CompleteStream(ctx, buildMessages(question, chunks, history), onDelta)
	if err != nil {
		return domain.GenerationResult{}, wrapGeneration(err)
	}
	return result, nil
}

// wrapGeneration guarantees callers always see a domain-level generation
// failure, never a raw transport error.
func wrapGeneration(err error) error {
	if errors.Is(err, domain.ErrGenerationFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
}
