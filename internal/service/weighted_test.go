package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
)

func TestWeightedEngine_ScoreBeforeInitialize(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	patient := domain.NewFeatureVector().Disease("cancer").Build()
	trial := domain.NewFeatureVector().Disease("cancer").Build()

	_, err := engine.Score(patient, trial)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestWeightedEngine_PerfectMatch(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	patient := domain.NewFeatureVector().
		Age(55).
		Gender("female").
		Disease("biliary cancer").
		AddBiomarker("her2").
		Build()
	trial := domain.NewFeatureVector().
		Age(55).
		Gender("female").
		Disease("biliary cancer").
		AddBiomarker("her2").
		Build()

	engine.Initialize([]*domain.FeatureVector{patient}, []*domain.FeatureVector{trial})

	result, err := engine.Score(patient, trial)
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.MatchScore)
	assert.Equal(t, 1.0, result.Confidence)
	assert.True(t, result.IsEligible)
}

func TestWeightedEngine_Confidence(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	// The trial cares about disease, age, and a biomarker; the patient
	// lacks age data, so confidence is 2/3.
	patient := domain.NewFeatureVector().
		Disease("biliary cancer").
		AddBiomarker("her2").
		Build()
	trial := domain.NewFeatureVector().
		Age(50).
		Disease("biliary cancer").
		AddBiomarker("her2").
		Build()

	engine.Initialize([]*domain.FeatureVector{patient}, []*domain.FeatureVector{trial})

	result, err := engine.Score(patient, trial)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 1e-9)
}

func TestWeightedEngine_ConfidenceMonotonicity(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	trial := domain.NewFeatureVector().
		Age(50).
		Gender("female").
		Disease("biliary cancer").
		Build()
	full := domain.NewFeatureVector().
		Age(55).
		Gender("female").
		Disease("biliary cancer").
		Build()
	reduced := domain.NewFeatureVector().
		Age(55).
		Disease("biliary cancer").
		Build()

	engine.Initialize([]*domain.FeatureVector{full, reduced}, []*domain.FeatureVector{trial})

	fullResult, err := engine.Score(full, trial)
	require.NoError(t, err)
	reducedResult, err := engine.Score(reduced, trial)
	require.NoError(t, err)

	assert.LessOrEqual(t, reducedResult.Confidence, fullResult.Confidence)
}

func TestWeightedEngine_FeatureContributions(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	patient := domain.NewFeatureVector().
		Disease("biliary cancer").
		AddBiomarker("her2").
		AddBiomarker("er").
		Build()
	trial := domain.NewFeatureVector().
		Disease("biliary cancer").
		AddBiomarker("her2").
		Build()

	engine.Initialize([]*domain.FeatureVector{patient}, []*domain.FeatureVector{trial})

	result, err := engine.Score(patient, trial)
	require.NoError(t, err)

	assert.Contains(t, result.FeatureContributions, "disease")
	assert.Contains(t, result.FeatureContributions, "biomarkers")
	assert.NotContains(t, result.FeatureContributions, "age")

	assert.InDelta(t, 0.35, result.FeatureContributions["disease"], 1e-9)
	// Jaccard overlap {her2} / {her2, er} = 0.5, weighted by 0.25.
	assert.InDelta(t, 0.125, result.FeatureContributions["biomarkers"], 1e-9)
}

func TestWeightedEngine_ScoreBounds(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	patients := []*domain.FeatureVector{
		domain.NewFeatureVector().Build(),
		domain.NewFeatureVector().Age(20).Gender("male").Disease("lung cancer").Build(),
		domain.NewFeatureVector().Age(90).Disease("biliary cancer").AddBiomarker("her2").SetLab("718-7", 9).Build(),
	}
	trials := []*domain.FeatureVector{
		domain.NewFeatureVector().Age(50).Gender("female").Disease("biliary cancer").AddBiomarker("her2").SetLab("718-7", 13).Build(),
		domain.NewFeatureVector().Build(),
	}

	engine.Initialize(patients, trials)

	for _, patient := range patients {
		for _, trial := range trials {
			result, err := engine.Score(patient, trial)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, result.MatchScore, 0.0)
			assert.LessOrEqual(t, result.MatchScore, 1.0)
			assert.GreaterOrEqual(t, result.Confidence, 0.0)
			assert.LessOrEqual(t, result.Confidence, 1.0)
		}
	}
}

func TestWeightedEngine_Determinism(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)

	patient := domain.NewFeatureVector().
		Age(55).
		Gender("female").
		Disease("biliary cancer").
		AddBiomarker("her2").
		SetLab("718-7", 12.5).
		SetLab("2345-7", 98).
		Build()
	trial := domain.NewFeatureVector().
		Age(46.5).
		Disease("biliary cancer").
		AddBiomarker("her2").
		SetLab("718-7", 13).
		SetLab("2345-7", 100).
		Build()

	engine.Initialize([]*domain.FeatureVector{patient}, []*domain.FeatureVector{trial})

	first, err := engine.Score(patient, trial)
	require.NoError(t, err)
	second, err := engine.Score(patient, trial)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTrialProcessor_Run(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)
	processor := NewTrialProcessor(newTestLogger(), engine)

	patients := []*domain.FeatureVector{
		domain.NewFeatureVector().Age(55).Disease("biliary cancer").Build(),
		domain.NewFeatureVector().Age(62).Disease("lung cancer").Build(),
	}
	trials := []*domain.FeatureVector{
		domain.NewFeatureVector().Age(50).Disease("biliary cancer").Build(),
		domain.NewFeatureVector().Age(60).Disease("lung cancer").Build(),
		domain.NewFeatureVector().Disease("breast cancer").Build(),
	}

	results, err := processor.Run(patients, trials)
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, row := range results {
		require.Len(t, row, 3)
		for _, result := range row {
			require.NotNil(t, result)
		}
	}

	// The biliary patient fits the biliary trial best.
	assert.Greater(t, results[0][0].MatchScore, results[0][1].MatchScore)
}

func TestTrialProcessor_EmptyInput(t *testing.T) {
	engine := NewWeightedEngine(newTestLogger(), 0.6)
	processor := NewTrialProcessor(newTestLogger(), engine)

	patients := []*domain.FeatureVector{domain.NewFeatureVector().Build()}
	trials := []*domain.FeatureVector{domain.NewFeatureVector().Build()}

	_, err := processor.Run(nil, trials)
	var emptyErr *domain.EmptyInputError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, "patients", emptyErr.What)

	_, err = processor.Run(patients, nil)
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, "trials", emptyErr.What)
}
