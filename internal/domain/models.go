// Package domain contains the core business entities for clinical trial
// eligibility matching: the feature representation shared by patients and
// trials, weighted eligibility criteria, and the result types produced by the
// matching engines.
package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// MatchStrategy selects which scoring engine evaluates a (patient, trial) pair.
type MatchStrategy string

const (
	// StrategyPredicate scores against hand-authored weighted criteria.
	StrategyPredicate MatchStrategy = "predicate"
	// StrategyWeighted scores by feature-space similarity.
	StrategyWeighted MatchStrategy = "weighted"
)

// IsValid reports whether the strategy is one of the supported engines.
func (s MatchStrategy) IsValid() bool {
	switch s {
	case StrategyPredicate, StrategyWeighted:
		return true
	default:
		return false
	}
}

// BiomarkerVocabulary is the fixed set of biomarker codes recognized by the
// feature extractor. Coded observations outside this vocabulary are treated
// as lab values instead.
var BiomarkerVocabulary = map[string]bool{
	"her2":  true,
	"er":    true,
	"pr":    true,
	"brca1": true,
	"brca2": true,
	"egfr":  true,
	"alk":   true,
	"kras":  true,
	"pd-l1": true,
	"msi":   true,
}

// AgeCode is the reserved criterion code for age-range criteria. The
// predicate engine resolves it against the age feature rather than the
// lab-value map.
const AgeCode = "age"

// FeatureVector describes one patient or one trial as a bag of comparable
// attributes. All string fields are case-normalized at construction time so
// downstream comparisons are case-insensitive. Vectors are built once via
// FeatureVectorBuilder and never mutated by a scoring call.
type FeatureVector struct {
	Age        *float64           `json:"age,omitempty"`
	Gender     string             `json:"gender,omitempty"`
	Disease    string             `json:"disease,omitempty"`
	Conditions map[string]bool    `json:"conditions,omitempty"`
	Biomarkers map[string]bool    `json:"biomarkers,omitempty"`
	LabValues  map[string]float64 `json:"lab_values,omitempty"`
}

// HasBiomarker reports whether the vector carries the given biomarker code.
func (v *FeatureVector) HasBiomarker(code string) bool {
	return v.Biomarkers[normalize(code)]
}

// HasCondition reports whether the given code or display text matches one of
// the vector's recorded conditions (or its primary disease).
func (v *FeatureVector) HasCondition(codeOrName string) bool {
	key := normalize(codeOrName)
	if key == "" {
		return false
	}
	if v.Disease == key {
		return true
	}
	return v.Conditions[key]
}

// Lab returns the lab value recorded under code, if present.
func (v *FeatureVector) Lab(code string) (float64, bool) {
	val, ok := v.LabValues[normalize(code)]
	return val, ok
}

// BiomarkerList returns the biomarker codes in deterministic (sorted) order.
func (v *FeatureVector) BiomarkerList() []string {
	out := make([]string, 0, len(v.Biomarkers))
	for code := range v.Biomarkers {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// FeatureVectorBuilder assembles an immutable FeatureVector. The builder
// normalizes every string field and deduplicates biomarkers, so two vectors
// built from equivalent inputs compare identically.
type FeatureVectorBuilder struct {
	vec FeatureVector
}

// NewFeatureVector returns an empty builder.
func NewFeatureVector() *FeatureVectorBuilder {
	return &FeatureVectorBuilder{}
}

// Age sets the age in years.
func (b *FeatureVectorBuilder) Age(years float64) *FeatureVectorBuilder {
	b.vec.Age = &years
	return b
}

// Gender sets the normalized gender value.
func (b *FeatureVectorBuilder) Gender(gender string) *FeatureVectorBuilder {
	b.vec.Gender = normalize(gender)
	return b
}

// Disease sets the normalized primary condition name.
func (b *FeatureVectorBuilder) Disease(disease string) *FeatureVectorBuilder {
	b.vec.Disease = normalize(disease)
	return b
}

// AddCondition records a condition code or display text.
func (b *FeatureVectorBuilder) AddCondition(codeOrName string) *FeatureVectorBuilder {
	key := normalize(codeOrName)
	if key == "" {
		return b
	}
	if b.vec.Conditions == nil {
		b.vec.Conditions = make(map[string]bool)
	}
	b.vec.Conditions[key] = true
	return b
}

// AddBiomarker records a biomarker code; duplicates collapse.
func (b *FeatureVectorBuilder) AddBiomarker(code string) *FeatureVectorBuilder {
	key := normalize(code)
	if key == "" {
		return b
	}
	if b.vec.Biomarkers == nil {
		b.vec.Biomarkers = make(map[string]bool)
	}
	b.vec.Biomarkers[key] = true
	return b
}

// SetLab records a numeric lab/observation value keyed by its code.
func (b *FeatureVectorBuilder) SetLab(code string, value float64) *FeatureVectorBuilder {
	key := normalize(code)
	if key == "" {
		return b
	}
	if b.vec.LabValues == nil {
		b.vec.LabValues = make(map[string]float64)
	}
	b.vec.LabValues[key] = value
	return b
}

// Build returns the finished vector. The builder's internal maps are copied
// so further builder calls cannot alias into the returned value.
func (b *FeatureVectorBuilder) Build() *FeatureVector {
	out := FeatureVector{
		Age:     b.vec.Age,
		Gender:  b.vec.Gender,
		Disease: b.vec.Disease,
	}
	if b.vec.Age != nil {
		age := *b.vec.Age
		out.Age = &age
	}
	if len(b.vec.Conditions) > 0 {
		out.Conditions = make(map[string]bool, len(b.vec.Conditions))
		for k, v := range b.vec.Conditions {
			out.Conditions[k] = v
		}
	}
	if len(b.vec.Biomarkers) > 0 {
		out.Biomarkers = make(map[string]bool, len(b.vec.Biomarkers))
		for k, v := range b.vec.Biomarkers {
			out.Biomarkers[k] = v
		}
	}
	if len(b.vec.LabValues) > 0 {
		out.LabValues = make(map[string]float64, len(b.vec.LabValues))
		for k, v := range b.vec.LabValues {
			out.LabValues[k] = v
		}
	}
	return &out
}

// normalize lowercases and trims a string field for case-insensitive
// comparison.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize exposes the canonical string normalization used across the
// matching pipeline.
func Normalize(s string) string {
	return normalize(s)
}

// PredicateMatchResult is the outcome of evaluating a patient against a
// trial's weighted criteria. Matched, unmatched, and missing partition the
// inclusion criteria; ExclusionsTriggered lists the codes of exclusion
// criteria found present in the patient.
type PredicateMatchResult struct {
	Eligible            bool     `json:"eligible"`
	Score               float64  `json:"score"`
	Matched             []string `json:"matched"`
	Unmatched           []string `json:"unmatched"`
	Missing             []string `json:"missing"`
	ExclusionsTriggered []string `json:"exclusions_triggered"`
	SuggestedData       []string `json:"suggested_data"`
}

// WeightedMatchResult is the outcome of scoring a (patient, trial) pair in
// the shared feature space. Confidence reports data completeness and never
// gates eligibility by itself.
type WeightedMatchResult struct {
	MatchScore           float64            `json:"match_score"`
	IsEligible           bool               `json:"is_eligible"`
	Confidence           float64            `json:"confidence"`
	FeatureContributions map[string]float64 `json:"feature_contributions"`
}

// Explanation is the human-readable rendering of either result type.
type Explanation struct {
	Summary         string `json:"summary"`
	MatchedFacts    string `json:"matched_facts"`
	Blockers        string `json:"blockers"`
	Recommendations string `json:"recommendations"`
}

// TrialMatch pairs one trial with one patient's scoring result and its
// explanation. Exactly one of Result and WeightedResult is set, depending on
// the strategy used. On the wire both engines emit their result under the
// "result" key; the result shape itself tells the two apart.
type TrialMatch struct {
	TrialID        string                `json:"trial_id"`
	TrialTitle     string                `json:"trial_title"`
	Result         *PredicateMatchResult `json:"-"`
	WeightedResult *WeightedMatchResult  `json:"-"`
	Explanation    *Explanation          `json:"explanation,omitempty"`
}

// trialMatchWire is the interchange form of TrialMatch.
type trialMatchWire struct {
	TrialID     string          `json:"trial_id"`
	TrialTitle  string          `json:"trial_title"`
	Result      json.RawMessage `json:"result,omitempty"`
	Explanation *Explanation    `json:"explanation,omitempty"`
}

// MarshalJSON emits whichever engine result is set under the "result" key.
func (m TrialMatch) MarshalJSON() ([]byte, error) {
	wire := trialMatchWire{
		TrialID:     m.TrialID,
		TrialTitle:  m.TrialTitle,
		Explanation: m.Explanation,
	}

	var result interface{}
	switch {
	case m.Result != nil:
		result = m.Result
	case m.WeightedResult != nil:
		result = m.WeightedResult
	}
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		wire.Result = encoded
	}

	return json.Marshal(wire)
}

// UnmarshalJSON restores the engine-specific result type. A weighted
// result is recognized by its match_score field.
func (m *TrialMatch) UnmarshalJSON(data []byte) error {
	var wire trialMatchWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	m.TrialID = wire.TrialID
	m.TrialTitle = wire.TrialTitle
	m.Explanation = wire.Explanation
	m.Result = nil
	m.WeightedResult = nil

	if len(wire.Result) == 0 || string(wire.Result) == "null" {
		return nil
	}

	var probe struct {
		MatchScore *float64 `json:"match_score"`
	}
	if err := json.Unmarshal(wire.Result, &probe); err != nil {
		return err
	}
	if probe.MatchScore != nil {
		m.WeightedResult = &WeightedMatchResult{}
		return json.Unmarshal(wire.Result, m.WeightedResult)
	}
	m.Result = &PredicateMatchResult{}
	return json.Unmarshal(wire.Result, m.Result)
}

// Score returns the native score of whichever engine produced the match:
// [0,100] for the predicate engine, [0,1] for the weighted engine.
func (m *TrialMatch) Score() float64 {
	if m.Result != nil {
		return m.Result.Score
	}
	if m.WeightedResult != nil {
		return m.WeightedResult.MatchScore
	}
	return 0
}

// PatientMatches holds one patient's ranked per-trial results. Error is set
// when the patient's extraction or scoring failed; the batch continues for
// the other patients.
type PatientMatches struct {
	PatientFilename string       `json:"patient_filename"`
	RankedTrials    []TrialMatch `json:"ranked_trials"`
	Error           string       `json:"error,omitempty"`
}
