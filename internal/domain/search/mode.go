// Package search holds the retrieval request vocabulary: search modes and
// eligibility filters.
package search

// Mode is the search strategy.
type Mode string

// Search mode constants.
const (
	// Hybrid fuses vector and keyword rankings via RRF.
	Hybrid  Mode = "hybrid"
	Vector  Mode = "vector"
	Keyword Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Vector || m == Keyword
}
