package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// TrialProcessor orchestrates the weighted engine across a population
// of patients and trials. It holds no scoring logic of its own.
type TrialProcessor struct {
	logger *logrus.Logger
	engine *WeightedEngine
}

// NewTrialProcessor creates a new trial data processor
func NewTrialProcessor(logger *logrus.Logger, engine *WeightedEngine) *TrialProcessor {
	return &TrialProcessor{
		logger: logger,
		engine: engine,
	}
}

// Run initializes the engine over the whole population once, then
// scores every (patient, trial) pair. The outer sequence is in patient
// input order, each inner sequence in trial input order.
func (p *TrialProcessor) Run(patients, trials []*domain.FeatureVector) ([][]*domain.WeightedMatchResult, error) {
	if len(patients) == 0 {
		return nil, domain.NewEmptyInputError("patients")
	}
	if len(trials) == 0 {
		return nil, domain.NewEmptyInputError("trials")
	}

	p.engine.Initialize(patients, trials)

	results := make([][]*domain.WeightedMatchResult, 0, len(patients))
	for i, patient := range patients {
		row := make([]*domain.WeightedMatchResult, 0, len(trials))
		for j, trial := range trials {
			result, err := p.engine.Score(patient, trial)
			if err != nil {
				return nil, fmt.Errorf("failed to score patient %d against trial %d: %w", i, j, err)
			}
			row = append(row, result)
		}
		results = append(results, row)
	}

	p.logger.WithFields(logrus.Fields{
		"patients": len(patients),
		"trials":   len(trials),
	}).Info("Scored patient-trial batch")

	return results, nil
}
