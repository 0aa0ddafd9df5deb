package db

import "github.com/lorekeep/lorekeep/internal/domain/search"

// KNNQuery is the input for vector similarity search. CampaignID and the
// ready-status predicate are mandatory pre-filters; Filters narrow further.
type KNNQuery struct {
	IndexName    string
	CampaignID   string
	Filters      search.Filters
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is the input for BM25 keyword search with the same scoping rules.
type TextQuery struct {
	IndexName    string
	CampaignID   string
	Query        string
	Filters      search.Filters
	TopK         int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single passage hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
