// internal/optimizer/dedup.go
package optimizer

import (
	"github.com/valpere/ingestkit/internal/cache"
)

// DedupedQuery is one distinct query and the input positions it came from.
type DedupedQuery struct {
	Query     map[string]any `json:"query"`
	Digest    string         `json:"digest"`
	Positions []int          `json:"positions"`
}

// DeduplicateQueries collapses structurally equal queries. Key order does
// not matter; the first occurrence of each query is kept and the output is
// in first-seen order.
func (s *Service) DeduplicateQueries(queries []map[string]any) []DedupedQuery {
	return DeduplicateQueries(queries)
}

// DeduplicateQueries is the stateless form of Service.DeduplicateQueries.
func DeduplicateQueries(queries []map[string]any) []DedupedQuery {
	out := make([]DedupedQuery, 0, len(queries))
	seen := make(map[string]int, len(queries))

	for i, q := range queries {
		canonical := string(cache.Canonical(q))
		if at, ok := seen[canonical]; ok {
			out[at].Positions = append(out[at].Positions, i)
			continue
		}
		seen[canonical] = len(out)
		out = append(out, DedupedQuery{
			Query:     q,
			Digest:    cache.Digest(q),
			Positions: []int{i},
		})
	}
	return out
}
