package document

import (
	"fmt"
	"strings"
)

// StructuralError is a schema violation located in the source document.
type StructuralError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e StructuralError) String() string {
	return fmt.Sprintf("%d:%d %s: %s", e.Line, e.Column, e.Path, e.Message)
}

// ConsistencyError is a failed cross-schedule rule.
type ConsistencyError struct {
	Rule       string   `json:"rule"`
	Schedules  []string `json:"schedules"`
	Expected   string   `json:"expected,omitempty"`
	Actual     string   `json:"actual,omitempty"`
	Difference string   `json:"difference,omitempty"`
	Message    string   `json:"message"`
}

func (e ConsistencyError) String() string {
	return fmt.Sprintf("%s [%s]: %s", e.Rule, strings.Join(e.Schedules, ","), e.Message)
}

// ValidationOutcome aggregates every problem found in one validation pass.
type ValidationOutcome struct {
	IsValid           bool               `json:"is_valid"`
	StructuralErrors  []StructuralError  `json:"structural_errors,omitempty"`
	ConsistencyErrors []ConsistencyError `json:"consistency_errors,omitempty"`
}

// Valid returns an outcome with no errors.
func Valid() ValidationOutcome {
	return ValidationOutcome{IsValid: true}
}

// AddStructural records a schema violation.
func (o *ValidationOutcome) AddStructural(e StructuralError) {
	o.StructuralErrors = append(o.StructuralErrors, e)
	o.IsValid = false
}

// AddConsistency records a cross-schedule violation.
func (o *ValidationOutcome) AddConsistency(e ConsistencyError) {
	o.ConsistencyErrors = append(o.ConsistencyErrors, e)
	o.IsValid = false
}

// Merge combines two outcomes; the result is valid only if both are.
func (o ValidationOutcome) Merge(other ValidationOutcome) ValidationOutcome {
	return ValidationOutcome{
		IsValid:           o.IsValid && other.IsValid,
		StructuralErrors:  append(append([]StructuralError(nil), o.StructuralErrors...), other.StructuralErrors...),
		ConsistencyErrors: append(append([]ConsistencyError(nil), o.ConsistencyErrors...), other.ConsistencyErrors...),
	}
}

// Messages flattens every error into display strings.
func (o ValidationOutcome) Messages() []string {
	out := make([]string, 0, len(o.StructuralErrors)+len(o.ConsistencyErrors))
	for _, e := range o.StructuralErrors {
		out = append(out, e.String())
	}
	for _, e := range o.ConsistencyErrors {
		out = append(out, e.String())
	}
	return out
}
