// Package retrieval runs passage search across vector, keyword, and hybrid
// modes within a single campaign.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/search"
	"github.com/lorekeep/lorekeep/internal/metrics"
)

// Service handles passage search across vector, keyword, and hybrid modes.
type Service struct {
	repo   Repository
	owners OwnershipVerifier
	embed  Embedder
}

// New creates a retrieval service.
func New(repo Repository, owners OwnershipVerifier, embed Embedder) *Service {
	return &Service{repo: repo, owners: owners, embed: embed}
}

// Search executes a passage search for the given campaign. Ownership is
// verified before any backend is touched; topK is clamped to [1, MaxTopK]
// with DefaultTopK for zero.
func (s *Service) Search(
	ctx context.Context, userID, campaignID, query string,
	mode search.Mode, topK int, filters search.Filters,
) ([]chunk.Scored, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidRequest)
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unsupported search mode %q", domain.ErrInvalidRequest, mode)
	}

	if err := s.owners.VerifyOwnership(ctx, userID, campaignID); err != nil {
		return nil, err
	}

	topK = search.ClampTopK(topK)

	start := time.Now()

	var (
		results []chunk.Scored
		err     error
	)

	switch mode {
	case search.Vector:
		results, err = s.searchVector(ctx, campaignID, query, topK, filters)
	case search.Keyword:
		results, err = s.searchKeyword(ctx, campaignID, query, topK, filters)
	case search.Hybrid:
		results, err = s.searchHybrid(ctx, campaignID, query, topK, filters)
	}
	if err != nil {
		return nil, err
	}

	metrics.QueryPhaseDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())

	return results, nil
}

// searchVector embeds the query and runs KNN search.
func (s *Service) searchVector(
	ctx context.Context, campaignID, query string, topK int, filters search.Filters,
) ([]chunk.Scored, error) {
	embResult, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	results, err := s.repo.SearchVector(ctx, campaignID, embResult.Embedding, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("search vector: %w", err)
	}
	return results, nil
}

// searchKeyword runs BM25 search directly, no embedding round-trip.
func (s *Service) searchKeyword(
	ctx context.Context, campaignID, query string, topK int, filters search.Filters,
) ([]chunk.Scored, error) {
	results, err := s.repo.SearchKeyword(ctx, campaignID, query, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("search keyword: %w", err)
	}
	return results, nil
}

// searchHybrid runs vector and keyword search in parallel, each fetching
// 2×topK candidates, then fuses via RRF down to topK. The first failing leg
// cancels the other.
func (s *Service) searchHybrid(
	ctx context.Context, campaignID, query string, topK int, filters search.Filters,
) ([]chunk.Scored, error) {
	fetchK := 2 * topK

	var (
		vectorResults  []chunk.Scored
		keywordResults []chunk.Scored
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		embResult, err := s.embed.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("vectorize query: %w", err)
		}
		vectorResults, err = s.repo.SearchVector(gctx, campaignID, embResult.Embedding, fetchK, filters)
		if err != nil {
			return fmt.Errorf("search vector: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		keywordResults, err = s.repo.SearchKeyword(gctx, campaignID, query, fetchK, filters)
		if err != nil {
			return fmt.Errorf("search keyword: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fuseRRF(vectorResults, keywordResults, topK), nil
}
