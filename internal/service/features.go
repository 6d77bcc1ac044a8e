package service

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
)

// Weights assigned to criteria derived from trial free text.
const (
	biomarkerCriterionWeight = 3.0
	diseaseCriterionWeight   = 5.0
	ageCriterionWeight       = 2.0
	exclusionCriterionWeight = 10.0
)

// cnsMetastasesCode is the SNOMED code used for CNS metastases exclusions.
const cnsMetastasesCode = "128462008"

// ageRangePattern matches "<low> - <high> years" in free-text criteria.
var ageRangePattern = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s*years`)

// diseaseKeywords maps trial-text keywords to canonical disease names.
// Checked in order so that specific cancers win over the generic term.
var diseaseKeywords = []struct {
	keyword string
	disease string
}{
	{"biliary", "biliary cancer"},
	{"cholangiocarcinoma", "biliary cancer"},
	{"breast", "breast cancer"},
	{"lung", "lung cancer"},
	{"carcinoma", "cancer"},
	{"cancer", "cancer"},
}

// trialExtraction caches the derived vector and criteria for one trial.
type trialExtraction struct {
	features *domain.FeatureVector
	criteria *domain.CriteriaSet
}

// ExtractorService builds feature vectors from patient bundles and
// trial records
type ExtractorService struct {
	logger            *logrus.Logger
	now               func() time.Time
	trialCache        *lru.Cache
	biomarkerPatterns map[string]*regexp.Regexp
}

// NewExtractorService creates a new feature extractor
func NewExtractorService(logger *logrus.Logger, cacheSize int) (*ExtractorService, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create trial extraction cache: %w", err)
	}

	patterns := make(map[string]*regexp.Regexp, len(domain.BiomarkerVocabulary))
	for code := range domain.BiomarkerVocabulary {
		patterns[code] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(code) + `\b`)
	}

	return &ExtractorService{
		logger:            logger,
		now:               time.Now,
		trialCache:        cache,
		biomarkerPatterns: patterns,
	}, nil
}

// ExtractPatient builds a feature vector from a clinical bundle.
// Missing optional fields stay unset; only a structurally invalid
// bundle produces an ExtractionError.
func (s *ExtractorService) ExtractPatient(bundle *domain.Bundle) (*domain.FeatureVector, error) {
	if bundle == nil {
		return nil, domain.NewExtractionError("bundle", "bundle is nil")
	}
	if bundle.ResourceType != domain.ResourceTypeBundle {
		return nil, domain.NewExtractionError("bundle", fmt.Sprintf("unexpected resource type %q", bundle.ResourceType))
	}
	if len(bundle.Entry) == 0 {
		return nil, domain.NewExtractionError("bundle", "bundle has no entries")
	}

	builder := domain.NewFeatureVector()
	sawDisease := false

	for i, entry := range bundle.Entry {
		if entry.Resource == nil {
			return nil, domain.NewExtractionError("bundle", fmt.Sprintf("entry %d has no resource", i))
		}
		resource := entry.Resource

		switch resource.ResourceType {
		case domain.ResourceTypePatient:
			if resource.Gender != "" {
				builder.Gender(resource.Gender)
			}
			if resource.BirthDate != "" {
				if age, ok := s.ageFromBirthDate(resource.BirthDate); ok {
					builder.Age(age)
				}
			}

		case domain.ResourceTypeCondition:
			if resource.Code == nil {
				continue
			}
			for _, coding := range resource.Code.Coding {
				if coding.Code != "" {
					builder.AddCondition(coding.Code)
				}
				if coding.Display != "" {
					builder.AddCondition(coding.Display)
					if !sawDisease {
						builder.Disease(coding.Display)
						sawDisease = true
					}
				}
			}

		case domain.ResourceTypeObservation:
			s.extractObservation(builder, resource)
		}
	}

	features := builder.Build()
	s.logger.WithFields(logrus.Fields{
		"disease":    features.Disease,
		"biomarkers": len(features.Biomarkers),
		"lab_values": len(features.LabValues),
	}).Debug("Extracted patient features")

	return features, nil
}

// extractObservation routes one coded observation into biomarkers or
// lab values depending on whether its code is in the biomarker
// vocabulary.
func (s *ExtractorService) extractObservation(builder *domain.FeatureVectorBuilder, resource *domain.Resource) {
	if resource.Code == nil {
		return
	}
	for _, coding := range resource.Code.Coding {
		code := domain.Normalize(coding.Code)
		if code == "" {
			continue
		}
		if domain.BiomarkerVocabulary[code] {
			builder.AddBiomarker(code)
			continue
		}
		if resource.ValueQuantity != nil {
			builder.SetLab(code, resource.ValueQuantity.Value)
		}
	}
}

// ageFromBirthDate computes whole years between a birth date and now.
func (s *ExtractorService) ageFromBirthDate(birthDate string) (float64, bool) {
	born, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		s.logger.WithField("birth_date", birthDate).Debug("Unparseable birth date, leaving age unset")
		return 0, false
	}

	now := s.now()
	years := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		years--
	}
	if years < 0 {
		return 0, false
	}
	return float64(years), true
}

// ExtractTrial builds a feature vector and derived criteria set from a
// trial record's metadata and free-text criteria. Results are cached by
// trial ID.
func (s *ExtractorService) ExtractTrial(record *domain.TrialRecord) (*domain.FeatureVector, *domain.CriteriaSet, error) {
	if record == nil {
		return nil, nil, domain.NewExtractionError("trial", "trial record is nil")
	}
	if record.ID == "" {
		return nil, nil, domain.NewExtractionError("trial", "trial record has no id")
	}

	if cached, ok := s.trialCache.Get(record.ID); ok {
		extraction := cached.(*trialExtraction)
		return extraction.features, extraction.criteria, nil
	}

	builder := domain.NewFeatureVector()
	searchText := strings.ToLower(record.Title + " " + record.InclusionCriteria)

	disease := ""
	for _, entry := range diseaseKeywords {
		if strings.Contains(searchText, entry.keyword) {
			disease = entry.disease
			builder.Disease(entry.disease)
			break
		}
	}

	var ageLow, ageHigh float64
	hasAgeRange := false
	if m := ageRangePattern.FindStringSubmatch(record.InclusionCriteria); m != nil {
		low, errLow := strconv.ParseFloat(m[1], 64)
		high, errHigh := strconv.ParseFloat(m[2], 64)
		if errLow == nil && errHigh == nil && low <= high {
			ageLow, ageHigh = low, high
			hasAgeRange = true
			builder.Age((low + high) / 2)
		}
	}

	var biomarkers []string
	for code, pattern := range s.biomarkerPatterns {
		if pattern.MatchString(record.InclusionCriteria) {
			biomarkers = append(biomarkers, code)
			builder.AddBiomarker(code)
		}
	}
	sort.Strings(biomarkers)

	var inclusion []domain.Criterion
	for _, code := range biomarkers {
		inclusion = append(inclusion, domain.Criterion{
			Resource: domain.ResourceObservation,
			Code:     code,
			Operator: domain.OpEquals,
			Value:    "positive",
			Weight:   biomarkerCriterionWeight,
		})
	}
	if disease != "" {
		inclusion = append(inclusion, domain.Criterion{
			Resource: domain.ResourceCondition,
			Code:     disease,
			Operator: domain.OpPresent,
			Weight:   diseaseCriterionWeight,
		})
	}
	if hasAgeRange {
		inclusion = append(inclusion, domain.Criterion{
			Resource: domain.ResourceObservation,
			Code:     domain.AgeCode,
			Operator: domain.OpNumericRange,
			Low:      ageLow,
			High:     ageHigh,
			Weight:   ageCriterionWeight,
		})
	}

	var exclusion []domain.Criterion
	exclusionText := strings.ToLower(record.ExclusionCriteria)
	if strings.Contains(exclusionText, "cns metastases") || strings.Contains(exclusionText, "brain metastases") {
		exclusion = append(exclusion, domain.Criterion{
			Resource: domain.ResourceCondition,
			Code:     cnsMetastasesCode,
			Operator: domain.OpPresent,
			Weight:   exclusionCriterionWeight,
		})
	}

	criteria, err := domain.NewCriteriaSet(inclusion, exclusion)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build criteria for trial %s: %w", record.ID, err)
	}

	features := builder.Build()
	s.trialCache.Add(record.ID, &trialExtraction{features: features, criteria: criteria})

	s.logger.WithFields(logrus.Fields{
		"trial_id":   record.ID,
		"disease":    disease,
		"biomarkers": len(biomarkers),
		"inclusion":  len(criteria.Inclusion),
		"exclusion":  len(criteria.Exclusion),
	}).Debug("Extracted trial features and criteria")

	return features, criteria, nil
}
