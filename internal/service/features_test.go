package service

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests
	return logger
}

func newTestExtractor(t *testing.T) *ExtractorService {
	t.Helper()
	extractor, err := NewExtractorService(newTestLogger(), 16)
	require.NoError(t, err)
	extractor.now = func() time.Time {
		return time.Date(2035, time.June, 15, 0, 0, 0, 0, time.UTC)
	}
	return extractor
}

// samplePatientBundle mirrors the clinical-record adapter's output for a
// 55-year-old female with HER2-positive biliary cancer.
func samplePatientBundle() *domain.Bundle {
	return &domain.Bundle{
		ResourceType: domain.ResourceTypeBundle,
		Type:         "collection",
		Entry: []domain.BundleEntry{
			{Resource: &domain.Resource{
				ResourceType: domain.ResourceTypePatient,
				ID:           "patient-1",
				Gender:       "Female",
				BirthDate:    "1980-01-01",
			}},
			{Resource: &domain.Resource{
				ResourceType: domain.ResourceTypeCondition,
				ID:           "condition-1",
				Code: &domain.CodeableConcept{Coding: []domain.Coding{
					{System: "http://snomed.info/sct", Code: "363418001", Display: "Biliary cancer"},
				}},
			}},
			{Resource: &domain.Resource{
				ResourceType: domain.ResourceTypeObservation,
				ID:           "obs-1",
				Code: &domain.CodeableConcept{Coding: []domain.Coding{
					{System: "http://loinc.org", Code: "HER2", Display: "HER2 Status"},
				}},
				ValueCodeableConcept: &domain.CodeableConcept{Text: "Positive"},
			}},
			{Resource: &domain.Resource{
				ResourceType: domain.ResourceTypeObservation,
				ID:           "obs-2",
				Code: &domain.CodeableConcept{Coding: []domain.Coding{
					{System: "http://loinc.org", Code: "718-7", Display: "Hemoglobin"},
				}},
				ValueQuantity: &domain.Quantity{Value: 12.5, Unit: "g/dL"},
			}},
		},
	}
}

func TestExtractorService_ExtractPatient(t *testing.T) {
	extractor := newTestExtractor(t)

	features, err := extractor.ExtractPatient(samplePatientBundle())
	require.NoError(t, err)

	require.NotNil(t, features.Age)
	assert.Equal(t, 55.0, *features.Age)
	assert.Equal(t, "female", features.Gender)
	assert.Equal(t, "biliary cancer", features.Disease)
	assert.True(t, features.HasCondition("363418001"))
	assert.True(t, features.HasCondition("Biliary Cancer"))
	assert.True(t, features.HasBiomarker("her2"))
	assert.False(t, features.HasBiomarker("egfr"))

	value, ok := features.Lab("718-7")
	require.True(t, ok)
	assert.Equal(t, 12.5, value)
}

func TestExtractorService_ExtractPatient_MissingFieldsStayUnset(t *testing.T) {
	extractor := newTestExtractor(t)

	bundle := &domain.Bundle{
		ResourceType: domain.ResourceTypeBundle,
		Entry: []domain.BundleEntry{
			{Resource: &domain.Resource{ResourceType: domain.ResourceTypePatient, ID: "patient-2"}},
		},
	}

	features, err := extractor.ExtractPatient(bundle)
	require.NoError(t, err)

	assert.Nil(t, features.Age)
	assert.Empty(t, features.Gender)
	assert.Empty(t, features.Disease)
	assert.Empty(t, features.Biomarkers)
	assert.Empty(t, features.LabValues)
}

func TestExtractorService_ExtractPatient_InvalidBundle(t *testing.T) {
	extractor := newTestExtractor(t)

	tests := []struct {
		name   string
		bundle *domain.Bundle
	}{
		{name: "nil bundle", bundle: nil},
		{name: "wrong resource type", bundle: &domain.Bundle{ResourceType: "Patient", Entry: []domain.BundleEntry{{Resource: &domain.Resource{}}}}},
		{name: "no entries", bundle: &domain.Bundle{ResourceType: domain.ResourceTypeBundle}},
		{name: "entry without resource", bundle: &domain.Bundle{ResourceType: domain.ResourceTypeBundle, Entry: []domain.BundleEntry{{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractor.ExtractPatient(tt.bundle)
			require.Error(t, err)

			var extractionErr *domain.ExtractionError
			assert.ErrorAs(t, err, &extractionErr)
		})
	}
}

func TestExtractorService_ExtractTrial(t *testing.T) {
	extractor := newTestExtractor(t)

	record := &domain.TrialRecord{
		ID:                "NCT07062263",
		Title:             "HER2+ Biliary Cancer Treatment Study",
		InclusionCriteria: "Patients aged 18 - 75 years with HER2 positive biliary cancer",
		ExclusionCriteria: "Active CNS metastases; prior HER2-directed therapy",
	}

	features, criteria, err := extractor.ExtractTrial(record)
	require.NoError(t, err)

	assert.Equal(t, "biliary cancer", features.Disease)
	require.NotNil(t, features.Age)
	assert.Equal(t, 46.5, *features.Age)
	assert.True(t, features.HasBiomarker("her2"))

	require.Len(t, criteria.Inclusion, 3)
	assert.Equal(t, domain.OpEquals, criteria.Inclusion[0].Operator)
	assert.Equal(t, "her2", criteria.Inclusion[0].Code)
	assert.Equal(t, "positive", criteria.Inclusion[0].Value)
	assert.Equal(t, domain.OpPresent, criteria.Inclusion[1].Operator)
	assert.Equal(t, "biliary cancer", criteria.Inclusion[1].Code)
	assert.Equal(t, domain.OpNumericRange, criteria.Inclusion[2].Operator)
	assert.Equal(t, domain.AgeCode, criteria.Inclusion[2].Code)
	assert.Equal(t, 18.0, criteria.Inclusion[2].Low)
	assert.Equal(t, 75.0, criteria.Inclusion[2].High)

	require.Len(t, criteria.Exclusion, 1)
	assert.Equal(t, "128462008", criteria.Exclusion[0].Code)
}

func TestExtractorService_ExtractTrial_Cached(t *testing.T) {
	extractor := newTestExtractor(t)

	record := &domain.TrialRecord{
		ID:                "NCT12345678",
		Title:             "Advanced Cancer Immunotherapy Trial",
		InclusionCriteria: "Adults 18 - 99 years with PD-L1 expression",
	}

	features1, criteria1, err := extractor.ExtractTrial(record)
	require.NoError(t, err)
	features2, criteria2, err := extractor.ExtractTrial(record)
	require.NoError(t, err)

	assert.Same(t, features1, features2)
	assert.Same(t, criteria1, criteria2)
}

func TestExtractorService_ExtractTrial_NoSignals(t *testing.T) {
	extractor := newTestExtractor(t)

	record := &domain.TrialRecord{
		ID:    "NCT00000001",
		Title: "Observational Registry Study",
	}

	features, criteria, err := extractor.ExtractTrial(record)
	require.NoError(t, err)

	assert.Empty(t, features.Disease)
	assert.Nil(t, features.Age)
	assert.True(t, criteria.IsEmpty())
}

func TestExtractorService_ExtractTrial_InvalidRecord(t *testing.T) {
	extractor := newTestExtractor(t)

	_, _, err := extractor.ExtractTrial(nil)
	require.Error(t, err)

	_, _, err = extractor.ExtractTrial(&domain.TrialRecord{Title: "missing id"})
	require.Error(t, err)
}
