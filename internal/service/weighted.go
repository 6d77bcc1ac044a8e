package service

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// Feature names used in WeightedMatchResult.FeatureContributions.
const (
	featureAge        = "age"
	featureGender     = "gender"
	featureDisease    = "disease"
	featureBiomarkers = "biomarkers"
	featureLabValues  = "lab_values"
)

// Fixed relative importance of each shared feature. Disease identity
// dominates, lab-value closeness matters least.
var featureWeights = map[string]float64{
	featureDisease:    0.35,
	featureBiomarkers: 0.25,
	featureAge:        0.20,
	featureGender:     0.15,
	featureLabValues:  0.05,
}

// numericRange tracks the observed population spread for one numeric
// attribute so pairwise distances can be normalized.
type numericRange struct {
	min float64
	max float64
	set bool
}

func (r *numericRange) observe(value float64) {
	if !r.set {
		r.min, r.max, r.set = value, value, true
		return
	}
	if value < r.min {
		r.min = value
	}
	if value > r.max {
		r.max = value
	}
}

// span returns the observed spread, never less than 1 so normalized
// distances stay finite and bounded.
func (r *numericRange) span() float64 {
	if !r.set || r.max-r.min < 1 {
		return 1
	}
	return r.max - r.min
}

// WeightedEngine scores patient-trial pairs by similarity in a shared
// feature space. Initialize must complete before any Score call; the
// scales it computes make per-pair scores comparable across a batch.
type WeightedEngine struct {
	logger *logrus.Logger

	eligibilityThreshold float64

	mu          sync.RWMutex
	initialized bool
	ageRange    numericRange
	labRanges   map[string]*numericRange
}

// NewWeightedEngine creates a new weighted matching engine
func NewWeightedEngine(logger *logrus.Logger, eligibilityThreshold float64) *WeightedEngine {
	return &WeightedEngine{
		logger:               logger,
		eligibilityThreshold: eligibilityThreshold,
		labRanges:            map[string]*numericRange{},
	}
}

// Initialize computes population-level normalization scales from the
// supplied patients and trials. It may be called again to rescale for a
// new batch; scores issued concurrently with a re-initialization see
// either the old or the new scales, never a mix.
func (e *WeightedEngine) Initialize(patients, trials []*domain.FeatureVector) {
	ageRange := numericRange{}
	labRanges := map[string]*numericRange{}

	observe := func(v *domain.FeatureVector) {
		if v == nil {
			return
		}
		if v.Age != nil {
			ageRange.observe(*v.Age)
		}
		for code, value := range v.LabValues {
			r, ok := labRanges[code]
			if !ok {
				r = &numericRange{}
				labRanges[code] = r
			}
			r.observe(value)
		}
	}
	for _, p := range patients {
		observe(p)
	}
	for _, t := range trials {
		observe(t)
	}

	e.mu.Lock()
	e.ageRange = ageRange
	e.labRanges = labRanges
	e.initialized = true
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"patients":  len(patients),
		"trials":    len(trials),
		"lab_codes": len(labRanges),
	}).Debug("Initialized weighted engine scales")
}

// Score computes the similarity between one patient and one trial. It
// returns ErrNotInitialized if called before Initialize has completed.
func (e *WeightedEngine) Score(patient, trial *domain.FeatureVector) (*domain.WeightedMatchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return nil, domain.ErrNotInitialized
	}

	contributions := map[string]float64{}
	relevantWeight := 0.0
	relevant := 0
	withData := 0
	score := 0.0

	// Features accumulate in a fixed order so the floating-point sum is
	// identical across runs.
	addFeature := func(name string, raw float64, patientHasData bool) {
		weight := featureWeights[name]
		relevantWeight += weight
		relevant++
		if patientHasData {
			withData++
		}
		contribution := weight * raw
		contributions[name] = contribution
		score += contribution
	}

	if trial.Disease != "" {
		raw := 0.0
		if patient.Disease == trial.Disease || patient.HasCondition(trial.Disease) {
			raw = 1.0
		}
		addFeature(featureDisease, raw, patient.Disease != "" || len(patient.Conditions) > 0)
	}

	if len(trial.Biomarkers) > 0 {
		addFeature(featureBiomarkers, jaccard(patient.Biomarkers, trial.Biomarkers), len(patient.Biomarkers) > 0)
	}

	if trial.Age != nil {
		raw := 0.0
		if patient.Age != nil {
			distance := *patient.Age - *trial.Age
			if distance < 0 {
				distance = -distance
			}
			raw = clamp01(1 - distance/e.ageRange.span())
		}
		addFeature(featureAge, raw, patient.Age != nil)
	}

	if trial.Gender != "" {
		raw := 0.0
		if patient.Gender == trial.Gender {
			raw = 1.0
		}
		addFeature(featureGender, raw, patient.Gender != "")
	}

	if len(trial.LabValues) > 0 {
		addFeature(featureLabValues, e.labCloseness(patient, trial), len(patient.LabValues) > 0)
	}

	result := &domain.WeightedMatchResult{
		FeatureContributions: contributions,
	}
	if relevant > 0 {
		result.MatchScore = clamp01(score / relevantWeight)
		result.Confidence = float64(withData) / float64(relevant)
	}
	result.IsEligible = result.MatchScore >= e.eligibilityThreshold

	return result, nil
}

// labCloseness averages, over the trial's target lab codes, how close
// the patient's value is to the target on the population scale. Codes
// the patient has no value for contribute zero.
func (e *WeightedEngine) labCloseness(patient, trial *domain.FeatureVector) float64 {
	codes := make([]string, 0, len(trial.LabValues))
	for code := range trial.LabValues {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	total := 0.0
	for _, code := range codes {
		target := trial.LabValues[code]
		value, ok := patient.Lab(code)
		if !ok {
			continue
		}
		distance := value - target
		if distance < 0 {
			distance = -distance
		}
		span := 1.0
		if r, ok := e.labRanges[code]; ok {
			span = r.span()
		}
		total += clamp01(1 - distance/span)
	}
	return total / float64(len(trial.LabValues))
}

// jaccard computes set overlap between two biomarker sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for code := range a {
		if b[code] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
