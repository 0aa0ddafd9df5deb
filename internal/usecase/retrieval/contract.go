package retrieval

import (
	"context"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/search"
)

// Repository defines the storage contract for passage retrieval.
type Repository interface {
	SearchVector(
		ctx context.Context, campaignID string,
		vector []float32, topK int, filters search.Filters,
	) ([]chunk.Scored, error)

	SearchKeyword(
		ctx context.Context, campaignID string,
		query string, topK int, filters search.Filters,
	) ([]chunk.Scored, error)
}

// OwnershipVerifier checks that a campaign belongs to the requesting user.
type OwnershipVerifier interface {
	VerifyOwnership(ctx context.Context, userID, campaignID string) error
}

// Embedder vectorizes query text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
