// Package labpattern holds the library of named clinical lab patterns and the
// matcher that evaluates a snapshot of lab values against it.
//
// A pattern is a set of required and supporting findings, each a numeric
// comparison on one lab parameter.  Patterns are validated when the library
// is built; the library is read-only afterwards and may be shared between
// goroutines without locking.
package labpattern

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operator is a finding comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// equalEpsilon absorbs float noise for the "=" operator.
const equalEpsilon = 1e-9

// IsValid reports whether o is a supported operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpGreater, OpLess, OpEqual, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Holds reports whether "v o threshold" is true.
func (o Operator) Holds(v, threshold float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch o {
	case OpGreater:
		return v > threshold
	case OpLess:
		return v < threshold
	case OpEqual:
		return math.Abs(v-threshold) <= equalEpsilon
	case OpGreaterEqual:
		return v >= threshold
	case OpLessEqual:
		return v <= threshold
	}
	return false
}

// Severity ranks how urgent a pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Priority of a next step.
type Priority string

const (
	PriorityRoutine  Priority = "routine"
	PriorityUrgent   Priority = "urgent"
	PriorityEmergent Priority = "emergent"
)

// Finding is one lab condition, e.g. Sodium < 135.
type Finding struct {
	Parameter   string   `json:"parameter" yaml:"parameter"`
	Operator    Operator `json:"operator" yaml:"operator"`
	Value       float64  `json:"value" yaml:"value"`
	Unit        string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Required    bool     `json:"required" yaml:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Label renders the finding for display and for match listings.
func (f Finding) Label() string {
	var b strings.Builder
	b.WriteString(f.Parameter)
	b.WriteByte(' ')
	b.WriteString(string(f.Operator))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(f.Value, 'f', -1, 64))
	if f.Unit != "" {
		b.WriteByte(' ')
		b.WriteString(f.Unit)
	}
	return b.String()
}

// NextStep is one recommended follow-up.
type NextStep struct {
	Action    string   `json:"action" yaml:"action"`
	Priority  Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Rationale string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Pattern is a named clinical lab pattern.
type Pattern struct {
	ID                    string     `json:"id" yaml:"id"`
	Name                  string     `json:"name" yaml:"name"`
	Category              string     `json:"category" yaml:"category"`
	Description           string     `json:"description,omitempty" yaml:"description,omitempty"`
	RequiredFindings      []Finding  `json:"required_findings" yaml:"required"`
	SupportingFindings    []Finding  `json:"supporting_findings" yaml:"supporting"`
	Severity              Severity   `json:"severity" yaml:"severity"`
	DifferentialDiagnosis []string   `json:"differential_diagnosis" yaml:"differential"`
	NextSteps             []NextStep `json:"next_steps" yaml:"next_steps"`
	ClinicalPearls        []string   `json:"clinical_pearls" yaml:"pearls"`
}

// Findings returns the required findings followed by the supporting ones.
func (p Pattern) Findings() []Finding {
	out := make([]Finding, 0, len(p.RequiredFindings)+len(p.SupportingFindings))
	out = append(out, p.RequiredFindings...)
	return append(out, p.SupportingFindings...)
}

// Validate checks the structural rules every library pattern must satisfy.
func (p Pattern) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("pattern id is empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("pattern %s: name is empty", p.ID)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("pattern %s: category is empty", p.ID)
	}
	if len(p.RequiredFindings) == 0 {
		return fmt.Errorf("pattern %s: at least one required finding is needed", p.ID)
	}
	if p.Severity != "" && !p.Severity.IsValid() {
		return fmt.Errorf("pattern %s: unknown severity %q", p.ID, p.Severity)
	}
	for i, f := range p.Findings() {
		if strings.TrimSpace(f.Parameter) == "" {
			return fmt.Errorf("pattern %s: finding %d has no parameter", p.ID, i)
		}
		if !f.Operator.IsValid() {
			return fmt.Errorf("pattern %s: finding %q has unsupported operator %q", p.ID, f.Parameter, f.Operator)
		}
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return fmt.Errorf("pattern %s: finding %q has a non-finite threshold", p.ID, f.Parameter)
		}
	}
	return nil
}

// clone deep-copies p and normalises the Required flags and defaults.
func (p Pattern) clone() Pattern {
	c := p
	c.ID = strings.TrimSpace(p.ID)
	c.RequiredFindings = copyFindings(p.RequiredFindings, true)
	c.SupportingFindings = copyFindings(p.SupportingFindings, false)
	c.DifferentialDiagnosis = append([]string{}, p.DifferentialDiagnosis...)
	c.NextSteps = append([]NextStep{}, p.NextSteps...)
	c.ClinicalPearls = append([]string{}, p.ClinicalPearls...)
	if c.Severity == "" {
		c.Severity = SeverityModerate
	}
	return c
}

func copyFindings(in []Finding, required bool) []Finding {
	out := make([]Finding, len(in))
	for i, f := range in {
		f.Required = required
		out[i] = f
	}
	return out
}

//Personal.AI order the ending
