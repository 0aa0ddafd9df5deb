// Package chunk holds the retrieved-passage types shared between the search
// and generation layers.
package chunk

// PreviewLength is the number of content characters exposed in a citation.
const PreviewLength = 200

// Provenance records which search strategy produced a scored chunk.
type Provenance string

// Provenance values.
const (
	ProvenanceVector  Provenance = "vector"
	ProvenanceKeyword Provenance = "keyword"
	ProvenanceHybrid  Provenance = "hybrid"
)

// Scored is a single retrieved passage. Scores are only comparable within the
// same provenance and query: cosine similarities and BM25 scores live on
// different scales, and only fused scores are globally comparable.
type Scored struct {
	ID         string
	ResourceID string
	Content    string
	Page       *int
	Section    string
	Filename   string
	Score      float64
	Provenance Provenance
}

// Source is the externally visible citation form of a Scored chunk: a 1-based
// rank plus a bounded content preview instead of the full text.
type Source struct {
	ID         string  `json:"id"`
	ResourceID string  `json:"resource_id"`
	Rank       int     `json:"rank"`
	Preview    string  `json:"preview"`
	Page       *int    `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Score      float64 `json:"score"`
}

// SourceOf converts a scored chunk into its citation form at the given
// 1-based rank.
func SourceOf(c Scored, rank int) Source {
	return Source{
		ID:         c.ID,
		ResourceID: c.ResourceID,
		Rank:       rank,
		Preview:    truncate(c.Content, PreviewLength),
		Page:       c.Page,
		Section:    c.Section,
		Filename:   c.Filename,
		Score:      c.Score,
	}
}

// SourcesFromScored converts a retrieval-ordered chunk list into citations,
// ranks assigned from 1 in list order.
func SourcesFromScored(chunks []Scored) []Source {
	sources := make([]Source, len(chunks))
	for i, c := range chunks {
		sources[i] = SourceOf(c, i+1)
	}
	return sources
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Cut on a rune boundary so the preview stays valid UTF-8.
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
