package search

import "fmt"

// MaxFilterValues bounds each filter set to keep index queries reasonable.
const MaxFilterValues = 32

// Result cap limits. TopK ceiling is deliberately low: hybrid retrieval
// fans out 2×topK to each backend before fusion, so the per-backend fetch
// never exceeds 2×MaxTopK.
const (
	DefaultTopK = 10
	MaxTopK     = 50
)

// Filters narrows search eligibility. Every present set is conjunctive with
// the others; an absent set imposes no constraint. Within a set, membership
// is an OR (any listed resource id, any listed page, any overlapping tag).
type Filters struct {
	ResourceIDs []string
	Pages       []int
	Tags        []string
}

// NewFilters validates and creates search filters.
func NewFilters(resourceIDs []string, pages []int, tags []string) (Filters, error) {
	if len(resourceIDs) > MaxFilterValues {
		return Filters{}, fmt.Errorf("%w: too many resource ids (max %d)", errTooMany, MaxFilterValues)
	}
	if len(pages) > MaxFilterValues {
		return Filters{}, fmt.Errorf("%w: too many pages (max %d)", errTooMany, MaxFilterValues)
	}
	if len(tags) > MaxFilterValues {
		return Filters{}, fmt.Errorf("%w: too many tags (max %d)", errTooMany, MaxFilterValues)
	}
	for _, id := range resourceIDs {
		if id == "" {
			return Filters{}, fmt.Errorf("empty resource id in filter")
		}
	}
	for _, p := range pages {
		if p < 0 {
			return Filters{}, fmt.Errorf("negative page %d in filter", p)
		}
	}
	return Filters{ResourceIDs: resourceIDs, Pages: pages, Tags: tags}, nil
}

var errTooMany = fmt.Errorf("filter set too large")

// IsEmpty reports whether no constraint is present.
func (f Filters) IsEmpty() bool {
	return len(f.ResourceIDs) == 0 && len(f.Pages) == 0 && len(f.Tags) == 0
}

// ClampTopK normalizes a caller-supplied result cap.
func ClampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
