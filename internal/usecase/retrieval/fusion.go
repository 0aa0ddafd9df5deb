package retrieval

import (
	"sort"

	"github.com/lorekeep/lorekeep/internal/domain/chunk"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// fuseRRF merges vector and keyword results via Reciprocal Rank Fusion.
// score(d) = sum of 1/(k + rank_i(d)) for each ranking where d appears,
// ranks starting at 1. The vector list is processed first, so on a tied fused
// score the chunk first seen there wins; sort.SliceStable keeps that order
// deterministic regardless of map state.
func fuseRRF(vector, keyword []chunk.Scored, topK int) []chunk.Scored {
	type fused struct {
		ch    chunk.Scored
		score float64
	}

	merged := make(map[string]*fused, len(vector)+len(keyword))
	order := make([]string, 0, len(vector)+len(keyword))

	for rank, c := range vector {
		s := 1.0 / float64(rrfK+rank+1)
		merged[c.ID] = &fused{ch: c, score: s}
		order = append(order, c.ID)
	}

	for rank, c := range keyword {
		s := 1.0 / float64(rrfK+rank+1)
		if existing, ok := merged[c.ID]; ok {
			existing.score += s
			continue
		}
		merged[c.ID] = &fused{ch: c, score: s}
		order = append(order, c.ID)
	}

	results := make([]chunk.Scored, 0, len(merged))
	for _, id := range order {
		f := merged[id]
		c := f.ch
		c.Score = f.score
		c.Provenance = chunk.ProvenanceHybrid
		results = append(results, c)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results
}
