package service

import (
	"sort"

	"github.com/trial-match-server/internal/domain"
)

// Ranker orders a patient's per-trial results for presentation.
type Ranker struct{}

// NewRanker creates a new ranker
func NewRanker() *Ranker {
	return &Ranker{}
}

// Rank filters out results scoring below minScore, then sorts the rest
// descending by score. Ties are broken by trial ID ascending so that
// repeated runs over identical input produce an identical order.
func (r *Ranker) Rank(matches []domain.TrialMatch, minScore float64) []domain.TrialMatch {
	ranked := make([]domain.TrialMatch, 0, len(matches))
	for _, match := range matches {
		if match.Score() >= minScore {
			ranked = append(ranked, match)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score() != ranked[j].Score() {
			return ranked[i].Score() > ranked[j].Score()
		}
		return ranked[i].TrialID < ranked[j].TrialID
	})

	return ranked
}
