package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// criterionOutcome is the three-way classification of one criterion
// against one patient.
type criterionOutcome int

const (
	outcomeMatched criterionOutcome = iota
	outcomeUnmatched
	outcomeMissing
)

// genderCode is the reserved criterion code resolved against the
// patient's gender field.
const genderCode = "gender"

// PredicateEngine scores patients against weighted inclusion and
// exclusion criteria
type PredicateEngine struct {
	logger              *logrus.Logger
	acceptanceThreshold float64
}

// NewPredicateEngine creates a new predicate matching engine
func NewPredicateEngine(logger *logrus.Logger, acceptanceThreshold float64) *PredicateEngine {
	return &PredicateEngine{
		logger:              logger,
		acceptanceThreshold: acceptanceThreshold,
	}
}

// Evaluate classifies every criterion against the patient and produces
// a bounded score with itemized outcomes. It is a pure function of its
// inputs and the engine's threshold.
func (e *PredicateEngine) Evaluate(patient *domain.FeatureVector, criteria *domain.CriteriaSet) *domain.PredicateMatchResult {
	result := &domain.PredicateMatchResult{
		Matched:             []string{},
		Unmatched:           []string{},
		Missing:             []string{},
		ExclusionsTriggered: []string{},
		SuggestedData:       []string{},
	}

	earned := 0.0
	total := 0.0
	for _, criterion := range criteria.Inclusion {
		total += criterion.Weight
		switch e.classify(patient, criterion) {
		case outcomeMatched:
			earned += criterion.Weight
			result.Matched = append(result.Matched, criterion.Label())
		case outcomeUnmatched:
			result.Unmatched = append(result.Unmatched, criterion.Label())
		case outcomeMissing:
			result.Missing = append(result.Missing, criterion.Label())
			result.SuggestedData = append(result.SuggestedData, suggestionFor(criterion))
		}
	}

	if total > 0 {
		result.Score = 100 * earned / total
	}
	if result.Score < 0 {
		result.Score = 0
	} else if result.Score > 100 {
		result.Score = 100
	}

	// An exclusion criterion that matches forces ineligibility no
	// matter how high the inclusion score is.
	for _, criterion := range criteria.Exclusion {
		if e.classify(patient, criterion) == outcomeMatched {
			result.ExclusionsTriggered = append(result.ExclusionsTriggered, criterion.Code)
		}
	}

	result.Eligible = result.Score >= e.acceptanceThreshold && len(result.ExclusionsTriggered) == 0

	e.logger.WithFields(logrus.Fields{
		"score":      result.Score,
		"eligible":   result.Eligible,
		"matched":    len(result.Matched),
		"unmatched":  len(result.Unmatched),
		"missing":    len(result.Missing),
		"exclusions": len(result.ExclusionsTriggered),
	}).Debug("Evaluated predicate criteria")

	return result
}

// classify resolves one criterion to matched, unmatched, or missing.
// Missing means the patient attribute the rule inspects is absent, so
// the rule cannot be evaluated either way.
func (e *PredicateEngine) classify(patient *domain.FeatureVector, criterion domain.Criterion) criterionOutcome {
	switch criterion.Operator {
	case domain.OpEquals:
		return e.classifyEquals(patient, criterion)
	case domain.OpPresent:
		return e.classifyPresent(patient, criterion)
	case domain.OpNumericRange:
		return e.classifyNumericRange(patient, criterion)
	default:
		// Unreachable for a validated CriteriaSet.
		return outcomeUnmatched
	}
}

func (e *PredicateEngine) classifyEquals(patient *domain.FeatureVector, criterion domain.Criterion) criterionOutcome {
	code := domain.Normalize(criterion.Code)
	expected := domain.Normalize(criterion.Value)

	if code == genderCode {
		if patient.Gender == "" {
			return outcomeMissing
		}
		if patient.Gender == expected {
			return outcomeMatched
		}
		return outcomeUnmatched
	}

	if domain.BiomarkerVocabulary[code] {
		if !patient.HasBiomarker(code) {
			return outcomeMissing
		}
		// Biomarker membership records a positive finding; presence
		// satisfies an expected "positive", anything else fails.
		if expected == "positive" {
			return outcomeMatched
		}
		return outcomeUnmatched
	}

	value, ok := patient.Lab(code)
	if !ok {
		return outcomeMissing
	}
	expectedValue, err := strconv.ParseFloat(criterion.Value, 64)
	if err != nil {
		return outcomeUnmatched
	}
	if value == expectedValue {
		return outcomeMatched
	}
	return outcomeUnmatched
}

func (e *PredicateEngine) classifyPresent(patient *domain.FeatureVector, criterion domain.Criterion) criterionOutcome {
	switch criterion.Resource {
	case domain.ResourceCondition:
		if patient.HasCondition(criterion.Code) {
			return outcomeMatched
		}
		if patient.Disease == "" && len(patient.Conditions) == 0 {
			return outcomeMissing
		}
		return outcomeUnmatched

	default:
		code := domain.Normalize(criterion.Code)
		if patient.HasBiomarker(code) {
			return outcomeMatched
		}
		if _, ok := patient.Lab(code); ok {
			return outcomeMatched
		}
		if len(patient.Biomarkers) == 0 && len(patient.LabValues) == 0 {
			return outcomeMissing
		}
		return outcomeUnmatched
	}
}

func (e *PredicateEngine) classifyNumericRange(patient *domain.FeatureVector, criterion domain.Criterion) criterionOutcome {
	code := domain.Normalize(criterion.Code)

	var value float64
	if code == domain.AgeCode {
		if patient.Age == nil {
			return outcomeMissing
		}
		value = *patient.Age
	} else {
		labValue, ok := patient.Lab(code)
		if !ok {
			return outcomeMissing
		}
		value = labValue
	}

	if value >= criterion.Low && value <= criterion.High {
		return outcomeMatched
	}
	return outcomeUnmatched
}

// suggestionFor produces one deterministic data-collection suggestion
// for a criterion classified as missing.
func suggestionFor(criterion domain.Criterion) string {
	code := domain.Normalize(criterion.Code)

	switch {
	case code == domain.AgeCode:
		return "Record patient age"
	case code == genderCode:
		return "Record patient gender"
	case criterion.Resource == domain.ResourceCondition:
		return fmt.Sprintf("Confirm diagnosis status for %s", criterion.Code)
	case domain.BiomarkerVocabulary[code]:
		return fmt.Sprintf("Order %s testing", strings.ToUpper(code))
	default:
		return fmt.Sprintf("Order %s test", criterion.Code)
	}
}
