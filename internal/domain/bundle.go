package domain

// Resource type tags produced by the clinical-record adapter.
const (
	ResourceTypeBundle      = "Bundle"
	ResourceTypePatient     = "Patient"
	ResourceTypeCondition   = "Condition"
	ResourceTypeObservation = "Observation"
)

// Bundle is the clinical-record adapter's output: a collection of typed
// entries describing one patient. The shape mirrors a FHIR collection
// bundle restricted to the resources the matcher consumes.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry wraps a single resource.
type BundleEntry struct {
	Resource *Resource `json:"resource"`
}

// Resource is a flattened clinical resource. Which fields are meaningful
// depends on ResourceType: Patient carries Gender/BirthDate, Condition
// carries Code, Observation carries Code plus one of the value fields.
type Resource struct {
	ResourceType         string           `json:"resourceType"`
	ID                   string           `json:"id,omitempty"`
	Gender               string           `json:"gender,omitempty"`
	BirthDate            string           `json:"birthDate,omitempty"`
	Code                 *CodeableConcept `json:"code,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueQuantity        *Quantity        `json:"valueQuantity,omitempty"`
}

// CodeableConcept is a coded value with optional display text.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding is one code from a terminology system (SNOMED, LOINC, ...).
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Quantity is a numeric observation value.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// TrialRecord is the trial-record adapter's output: one trial's identity and
// its eligibility criteria as free text.
type TrialRecord struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	InclusionCriteria string `json:"inclusion_criteria"`
	ExclusionCriteria string `json:"exclusion_criteria"`
}
