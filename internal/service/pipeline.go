package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// PatientRecord is one patient's clinical bundle tagged with the
// filename it was ingested from.
type PatientRecord struct {
	Filename string         `json:"filename"`
	Bundle   *domain.Bundle `json:"bundle"`
}

// MatchService runs the full matching pipeline: feature extraction,
// scoring by the selected strategy, explanation, and ranking.
type MatchService struct {
	logger          *logrus.Logger
	extractor       *ExtractorService
	predicateEngine *PredicateEngine
	weightedEngine  *WeightedEngine
	processor       *TrialProcessor
	explainer       *Explainer
	ranker          *Ranker
	config          *domain.MatchingConfig
}

// NewMatchService creates a new matching pipeline
func NewMatchService(logger *logrus.Logger, config *domain.MatchingConfig) (*MatchService, error) {
	extractor, err := NewExtractorService(logger, config.CriteriaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	weightedEngine := NewWeightedEngine(logger, config.EligibilityThreshold)

	return &MatchService{
		logger:          logger,
		extractor:       extractor,
		predicateEngine: NewPredicateEngine(logger, config.AcceptanceThreshold),
		weightedEngine:  weightedEngine,
		processor:       NewTrialProcessor(logger, weightedEngine),
		explainer:       NewExplainer(),
		ranker:          NewRanker(),
		config:          config,
	}, nil
}

// MatchAll matches every patient against every trial using the given
// strategy and returns ranked per-patient results. One patient's
// extraction failure is reported on that patient's entry; the batch
// continues for the others.
func (s *MatchService) MatchAll(ctx context.Context, patients []PatientRecord, trials []domain.TrialRecord, strategy domain.MatchStrategy) ([]domain.PatientMatches, error) {
	startTime := time.Now()

	if !strategy.IsValid() {
		strategy = domain.MatchStrategy(s.config.Strategy)
	}
	if len(patients) == 0 {
		return nil, domain.NewEmptyInputError("patients")
	}
	if len(trials) == 0 {
		return nil, domain.NewEmptyInputError("trials")
	}

	s.logger.WithFields(logrus.Fields{
		"patients": len(patients),
		"trials":   len(trials),
		"strategy": strategy,
	}).Info("Starting patient-trial matching")

	trialFeatures := make([]*domain.FeatureVector, len(trials))
	trialCriteria := make([]*domain.CriteriaSet, len(trials))
	for i := range trials {
		features, criteria, err := s.extractor.ExtractTrial(&trials[i])
		if err != nil {
			return nil, fmt.Errorf("failed to extract trial %s: %w", trials[i].ID, err)
		}
		trialFeatures[i] = features
		trialCriteria[i] = criteria
	}

	var results []domain.PatientMatches
	var err error
	switch strategy {
	case domain.StrategyWeighted:
		results, err = s.matchWeighted(ctx, patients, trials, trialFeatures)
	default:
		results, err = s.matchPredicate(ctx, patients, trials, trialCriteria)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"patients":        len(results),
		"strategy":        strategy,
		"processing_time": time.Since(startTime),
	}).Info("Patient-trial matching completed")

	return results, nil
}

// matchPredicate scores each patient against each trial's derived
// criteria set with the rule-based engine.
func (s *MatchService) matchPredicate(ctx context.Context, patients []PatientRecord, trials []domain.TrialRecord, trialCriteria []*domain.CriteriaSet) ([]domain.PatientMatches, error) {
	results := make([]domain.PatientMatches, 0, len(patients))
	for _, patient := range patients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := domain.PatientMatches{PatientFilename: patient.Filename}

		features, err := s.extractor.ExtractPatient(patient.Bundle)
		if err != nil {
			s.logger.WithError(err).WithField("patient", patient.Filename).Warn("Skipping patient after extraction failure")
			entry.Error = err.Error()
			results = append(results, entry)
			continue
		}

		matches := make([]domain.TrialMatch, 0, len(trials))
		for i := range trials {
			result := s.predicateEngine.Evaluate(features, trialCriteria[i])
			matches = append(matches, domain.TrialMatch{
				TrialID:     trials[i].ID,
				TrialTitle:  trials[i].Title,
				Result:      result,
				Explanation: s.explainer.ExplainPredicate(result),
			})
		}

		entry.RankedTrials = s.ranker.Rank(matches, s.config.MinScore)
		results = append(results, entry)
	}
	return results, nil
}

// matchWeighted scores all successfully extracted patients in one batch
// so the engine's normalization covers the whole population.
func (s *MatchService) matchWeighted(ctx context.Context, patients []PatientRecord, trials []domain.TrialRecord, trialFeatures []*domain.FeatureVector) ([]domain.PatientMatches, error) {
	results := make([]domain.PatientMatches, len(patients))

	var patientFeatures []*domain.FeatureVector
	var extracted []int
	for i, patient := range patients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results[i] = domain.PatientMatches{PatientFilename: patient.Filename}

		features, err := s.extractor.ExtractPatient(patient.Bundle)
		if err != nil {
			s.logger.WithError(err).WithField("patient", patient.Filename).Warn("Skipping patient after extraction failure")
			results[i].Error = err.Error()
			continue
		}
		patientFeatures = append(patientFeatures, features)
		extracted = append(extracted, i)
	}

	if len(patientFeatures) == 0 {
		return results, nil
	}

	scores, err := s.processor.Run(patientFeatures, trialFeatures)
	if err != nil {
		return nil, err
	}

	for row, patientIdx := range extracted {
		matches := make([]domain.TrialMatch, 0, len(trials))
		for i := range trials {
			result := scores[row][i]
			matches = append(matches, domain.TrialMatch{
				TrialID:        trials[i].ID,
				TrialTitle:     trials[i].Title,
				WeightedResult: result,
				Explanation:    s.explainer.ExplainWeighted(result),
			})
		}
		results[patientIdx].RankedTrials = s.ranker.Rank(matches, s.config.EligibilityThreshold)
	}

	return results, nil
}
