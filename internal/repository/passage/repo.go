// Package passage adapts raw FT.SEARCH results into domain chunk lists for
// the retrieval layer.
package passage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lorekeep/lorekeep/internal/db"
	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/search"
)

// IndexName is the single FT index covering all campaign passages.
const IndexName = domain.KeyPrefix + "passage:idx"

// KeyPrefix is the hash key prefix: lorekeep:passage:<campaignID>:<chunkID>.
const KeyPrefix = domain.KeyPrefix + "passage:"

// PageUnknown is stored in the numeric page field when the source had no
// page information (NUMERIC fields cannot be absent from the index).
const PageUnknown = -1

var returnFields = []string{
	"__content", "resource_id", "page", "section", "filename",
}

// knnReturnFields additionally requests the KNN distance; with an explicit
// RETURN clause the server omits it unless named.
var knnReturnFields = append(returnFields[:len(returnFields):len(returnFields)], "__vector_score")

// store is the consumer interface for passage search (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Repo implements retrieval.PassageSearcher over the FT index.
type Repo struct {
	store store
}

// New creates a passage search repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// IndexDefinition returns the FT index the repository searches, for bootstrap
// at startup. Ingestion writes the hash fields; this service only reads them.
func IndexDefinition(dim, hnswM, hnswEFConstruct int) *db.IndexDefinition {
	return db.NewIndex(IndexName).
		Prefix(KeyPrefix).
		Tag("campaign_id").
		Tag("resource_id").
		Tag("status").
		TagWithSeparator("tags", ",").
		Numeric("page").
		Text("__content").
		VectorHNSW("__vector", dim, db.DistanceCosine, hnswM, hnswEFConstruct).
		MustBuild()
}

// SearchVector ranks passages by embedding similarity within a campaign.
// Results carry provenance vector, ordered by descending similarity.
func (r *Repo) SearchVector(
	ctx context.Context, campaignID string,
	vector []float32, topK int, filters search.Filters,
) ([]chunk.Scored, error) {
	q := &db.KNNQuery{
		IndexName:    IndexName,
		CampaignID:   campaignID,
		Filters:      filters,
		Vector:       vector,
		K:            topK,
		ReturnFields: knnReturnFields,
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: search vector %s: %w", domain.ErrBackendFailure, campaignID, err)
	}

	return parseResults(sr, campaignID, chunk.ProvenanceVector), nil
}

// SearchKeyword ranks passages by lexical relevance within a campaign.
// Results carry provenance keyword, ordered by descending BM25 score.
func (r *Repo) SearchKeyword(
	ctx context.Context, campaignID string,
	query string, topK int, filters search.Filters,
) ([]chunk.Scored, error) {
	q := &db.TextQuery{
		IndexName:    IndexName,
		CampaignID:   campaignID,
		Query:        query,
		Filters:      filters,
		TopK:         topK,
		ReturnFields: returnFields,
	}

	sr, err := r.store.SearchBM25(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: search keyword %s: %w", domain.ErrBackendFailure, campaignID, err)
	}

	return parseResults(sr, campaignID, chunk.ProvenanceKeyword), nil
}

func parseResults(sr *db.SearchResult, campaignID string, prov chunk.Provenance) []chunk.Scored {
	if sr == nil || sr.Total == 0 {
		return nil
	}

	prefix := KeyPrefix + campaignID + ":"
	chunks := make([]chunk.Scored, 0, len(sr.Entries))

	for _, entry := range sr.Entries {
		chunks = append(chunks, parseEntry(entry, strings.TrimPrefix(entry.Key, prefix), prov))
	}

	return chunks
}

func parseEntry(entry db.SearchEntry, chunkID string, prov chunk.Provenance) chunk.Scored {
	c := chunk.Scored{
		ID:         chunkID,
		ResourceID: entry.Fields["resource_id"],
		Content:    entry.Fields["__content"],
		Section:    entry.Fields["section"],
		Filename:   entry.Fields["filename"],
		Score:      entry.Score,
		Provenance: prov,
	}

	if pageStr, ok := entry.Fields["page"]; ok {
		if page, err := strconv.Atoi(pageStr); err == nil && page != PageUnknown {
			c.Page = &page
		}
	}

	return c
}
