package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trial-match-server/internal/domain"
)

// Explainer turns structured match results into human-readable
// explanation text. It is pure and deterministic: identical results
// always produce identical text.
type Explainer struct{}

// NewExplainer creates a new explainer
func NewExplainer() *Explainer {
	return &Explainer{}
}

// ExplainPredicate renders a predicate engine result.
func (e *Explainer) ExplainPredicate(result *domain.PredicateMatchResult) *domain.Explanation {
	explanation := &domain.Explanation{}

	switch {
	case result.Eligible && result.Score >= 80:
		explanation.Summary = "Patient is eligible for this trial with high match score."
	case result.Eligible:
		explanation.Summary = "Patient is eligible for this trial with moderate match score."
	case len(result.ExclusionsTriggered) > 0:
		explanation.Summary = "Patient is excluded from this trial."
	default:
		explanation.Summary = "Patient does not meet enough inclusion criteria for this trial."
	}

	if len(result.Matched) > 0 {
		explanation.MatchedFacts = fmt.Sprintf("%s match trial requirements.", joinFacts(result.Matched))
	} else {
		explanation.MatchedFacts = "No trial requirements were met."
	}

	switch {
	case len(result.ExclusionsTriggered) > 0:
		explanation.Blockers = fmt.Sprintf("Exclusion criteria triggered: %s.", strings.Join(result.ExclusionsTriggered, ", "))
	case len(result.Unmatched) > 0:
		explanation.Blockers = fmt.Sprintf("Unmet criteria: %s.", joinFacts(result.Unmatched))
	case len(result.Missing) > 0:
		explanation.Blockers = "Missing patient data reduces the match score."
	default:
		explanation.Blockers = "None - patient meets all critical inclusion criteria."
	}

	if len(result.SuggestedData) > 0 {
		explanation.Recommendations = fmt.Sprintf("%s.", strings.Join(result.SuggestedData, "; "))
	} else {
		explanation.Recommendations = "Consider additional lab tests for comprehensive assessment."
	}

	return explanation
}

// ExplainWeighted renders a weighted engine result, citing the feature
// contributions that drove the score.
func (e *Explainer) ExplainWeighted(result *domain.WeightedMatchResult) *domain.Explanation {
	explanation := &domain.Explanation{}

	confidencePct := result.Confidence * 100
	scorePct := result.MatchScore * 100
	if result.IsEligible {
		explanation.Summary = fmt.Sprintf("Patient is a likely match with %.0f%% similarity at %.0f%% confidence.", scorePct, confidencePct)
	} else {
		explanation.Summary = fmt.Sprintf("Patient is an unlikely match with %.0f%% similarity at %.0f%% confidence.", scorePct, confidencePct)
	}

	var positive []string
	var zero []string
	for _, name := range sortedFeatureNames(result.FeatureContributions) {
		if result.FeatureContributions[name] > 0 {
			positive = append(positive, fmt.Sprintf("%s (%.2f)", name, result.FeatureContributions[name]))
		} else {
			zero = append(zero, name)
		}
	}

	if len(positive) > 0 {
		explanation.MatchedFacts = fmt.Sprintf("Strongest contributions: %s.", strings.Join(positive, ", "))
	} else {
		explanation.MatchedFacts = "No feature contributed positively to the score."
	}

	if len(zero) > 0 {
		explanation.Blockers = fmt.Sprintf("No contribution from: %s.", strings.Join(zero, ", "))
	} else {
		explanation.Blockers = "None - all trial-relevant features contributed."
	}

	if result.Confidence < 1 {
		explanation.Recommendations = "Collect the missing patient attributes to improve confidence."
	} else {
		explanation.Recommendations = "Patient record covers all trial-relevant attributes."
	}

	return explanation
}

// joinFacts joins itemized criteria into one readable clause.
func joinFacts(facts []string) string {
	if len(facts) == 1 {
		return facts[0]
	}
	return strings.Join(facts[:len(facts)-1], ", ") + " and " + facts[len(facts)-1]
}

func sortedFeatureNames(contributions map[string]float64) []string {
	names := make([]string, 0, len(contributions))
	for name := range contributions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
