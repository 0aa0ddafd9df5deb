package answer

import (
	"context"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/rag"
)

// Generator defines the completion provider contract.
type Generator interface {
	Complete(ctx context.Context, messages []rag.Message) (domain.GenerationResult, error)
	CompleteStream(ctx context.Context, messages []rag.Message, onDelta func(delta string) error) (domain.GenerationResult, error)
}
