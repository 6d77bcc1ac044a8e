package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trial-match-server/internal/domain"
)

func predicateMatch(trialID string, score float64) domain.TrialMatch {
	return domain.TrialMatch{
		TrialID: trialID,
		Result:  &domain.PredicateMatchResult{Score: score},
	}
}

func TestRanker_FilterAndSort(t *testing.T) {
	ranker := NewRanker()

	matches := []domain.TrialMatch{
		predicateMatch("NCT12345678", 45.2),
		predicateMatch("NCT07062263", 85.5),
		predicateMatch("NCT87654321", 72.8),
	}

	ranked := ranker.Rank(matches, 60)

	assert.Len(t, ranked, 2)
	assert.Equal(t, "NCT07062263", ranked[0].TrialID)
	assert.Equal(t, "NCT87654321", ranked[1].TrialID)
}

func TestRanker_TieBreakByTrialID(t *testing.T) {
	ranker := NewRanker()

	matches := []domain.TrialMatch{
		predicateMatch("NCT99999999", 70),
		predicateMatch("NCT00000001", 70),
		predicateMatch("NCT55555555", 70),
	}

	ranked := ranker.Rank(matches, 0)

	assert.Equal(t, "NCT00000001", ranked[0].TrialID)
	assert.Equal(t, "NCT55555555", ranked[1].TrialID)
	assert.Equal(t, "NCT99999999", ranked[2].TrialID)
}

func TestRanker_PermutationInvariance(t *testing.T) {
	ranker := NewRanker()

	a := []domain.TrialMatch{
		predicateMatch("NCT00000002", 70),
		predicateMatch("NCT00000001", 70),
		predicateMatch("NCT00000003", 90),
	}
	b := []domain.TrialMatch{
		predicateMatch("NCT00000003", 90),
		predicateMatch("NCT00000001", 70),
		predicateMatch("NCT00000002", 70),
	}

	assert.Equal(t, ranker.Rank(a, 0), ranker.Rank(b, 0))
}

func TestRanker_InclusiveThreshold(t *testing.T) {
	ranker := NewRanker()

	ranked := ranker.Rank([]domain.TrialMatch{predicateMatch("NCT00000001", 60)}, 60)
	assert.Len(t, ranked, 1)
}

func TestRanker_WeightedResults(t *testing.T) {
	ranker := NewRanker()

	matches := []domain.TrialMatch{
		{TrialID: "NCT00000001", WeightedResult: &domain.WeightedMatchResult{MatchScore: 0.42}},
		{TrialID: "NCT00000002", WeightedResult: &domain.WeightedMatchResult{MatchScore: 0.79}},
	}

	ranked := ranker.Rank(matches, 0.6)

	assert.Len(t, ranked, 1)
	assert.Equal(t, "NCT00000002", ranked[0].TrialID)
}

func TestRanker_DoesNotMutateInput(t *testing.T) {
	ranker := NewRanker()

	matches := []domain.TrialMatch{
		predicateMatch("NCT00000002", 50),
		predicateMatch("NCT00000001", 90),
	}

	_ = ranker.Rank(matches, 0)

	assert.Equal(t, "NCT00000002", matches[0].TrialID)
	assert.Equal(t, "NCT00000001", matches[1].TrialID)
}
