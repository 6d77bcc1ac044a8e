package domain

import (
	"fmt"
)

// ResourceType tags which patient attribute family a criterion inspects.
type ResourceType string

const (
	ResourceCondition   ResourceType = "Condition"
	ResourceObservation ResourceType = "Observation"
)

// IsValid reports whether the resource type is supported.
func (r ResourceType) IsValid() bool {
	return r == ResourceCondition || r == ResourceObservation
}

// Operator tags how a criterion's expectation is tested.
type Operator string

const (
	// OpEquals compares normalized values for exact match.
	OpEquals Operator = "equals"
	// OpPresent succeeds iff the referenced code exists in the relevant
	// feature collection.
	OpPresent Operator = "present"
	// OpNumericRange succeeds iff the corresponding numeric value falls
	// within an inclusive [low, high] bound.
	OpNumericRange Operator = "numeric-range"
)

// IsValid reports whether the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpPresent, OpNumericRange:
		return true
	default:
		return false
	}
}

// Criterion is one weighted eligibility rule. Value is only meaningful for
// the equals operator; Low/High only for numeric-range.
type Criterion struct {
	Resource ResourceType `json:"resource_type"`
	Code     string       `json:"code"`
	Operator Operator     `json:"operator"`
	Value    string       `json:"value,omitempty"`
	Low      float64      `json:"low,omitempty"`
	High     float64      `json:"high,omitempty"`
	Weight   float64      `json:"weight"`
}

// Validate rejects criteria that cannot be evaluated. It is called at
// CriteriaSet construction time so malformed rules are never silently
// ignored during scoring.
func (c Criterion) Validate() error {
	if !c.Resource.IsValid() {
		return NewValidationError("resource_type", fmt.Sprintf("unsupported resource type %q", c.Resource))
	}
	if !c.Operator.IsValid() {
		return NewValidationError("operator", fmt.Sprintf("unsupported operator %q", c.Operator))
	}
	if c.Code == "" {
		return NewValidationError("code", "criterion code is required")
	}
	if c.Weight <= 0 {
		return NewValidationError("weight", fmt.Sprintf("weight must be positive, got %g", c.Weight))
	}
	switch c.Operator {
	case OpEquals:
		if c.Value == "" {
			return NewValidationError("value", "equals criterion requires an expected value")
		}
	case OpNumericRange:
		if c.Low > c.High {
			return NewValidationError("low", fmt.Sprintf("range lower bound %g exceeds upper bound %g", c.Low, c.High))
		}
	}
	return nil
}

// Label renders the criterion for the matched/unmatched/missing listings.
func (c Criterion) Label() string {
	switch c.Operator {
	case OpEquals:
		return fmt.Sprintf("%s %s = %s", c.Resource, c.Code, c.Value)
	case OpPresent:
		return fmt.Sprintf("%s %s present", c.Resource, c.Code)
	case OpNumericRange:
		return fmt.Sprintf("%s %s in [%g, %g]", c.Resource, c.Code, c.Low, c.High)
	default:
		return fmt.Sprintf("%s %s", c.Resource, c.Code)
	}
}

// CriteriaSet groups a trial's inclusion and exclusion rules. Order is
// evaluation order only; it determines listing order in results but not the
// score.
type CriteriaSet struct {
	Inclusion []Criterion `json:"inclusion"`
	Exclusion []Criterion `json:"exclusion"`
}

// NewCriteriaSet validates every criterion and returns an immutable set.
// The input slices are copied so later caller mutation cannot alias in.
func NewCriteriaSet(inclusion, exclusion []Criterion) (*CriteriaSet, error) {
	for i, c := range inclusion {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("inclusion criterion %d: %w", i, err)
		}
	}
	for i, c := range exclusion {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("exclusion criterion %d: %w", i, err)
		}
	}
	set := &CriteriaSet{
		Inclusion: make([]Criterion, len(inclusion)),
		Exclusion: make([]Criterion, len(exclusion)),
	}
	copy(set.Inclusion, inclusion)
	copy(set.Exclusion, exclusion)
	return set, nil
}

// TotalInclusionWeight sums the weights of all inclusion criteria.
func (s *CriteriaSet) TotalInclusionWeight() float64 {
	var total float64
	for _, c := range s.Inclusion {
		total += c.Weight
	}
	return total
}

// IsEmpty reports whether the set carries no rules at all.
func (s *CriteriaSet) IsEmpty() bool {
	return len(s.Inclusion) == 0 && len(s.Exclusion) == 0
}
