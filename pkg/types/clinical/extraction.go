package clinical

import "time"

// RecordExtraction is the structured result of parsing one document.  It is
// built once by the extractor and treated as immutable afterwards.
type RecordExtraction struct {
	DocumentType  DocumentType    `json:"document_type"`
	PatientName   string          `json:"patient_name,omitempty"`
	DateOfService *time.Time      `json:"date_of_service,omitempty"`
	Facility      string          `json:"facility,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	Labs          []LabResult     `json:"labs"`
	Medications   []Medication    `json:"medications"`
	Conditions    []Condition     `json:"conditions"`
	Imaging       []ImagingReport `json:"imaging"`
	Vitals        []VitalSign     `json:"vitals"`
	Confidence    float64         `json:"confidence"`
	Warnings      []string        `json:"warnings"`
}

// NewEmptyExtraction returns an extraction with empty (non-nil) arrays,
// zero confidence and the given warnings.
func NewEmptyExtraction(docType DocumentType, warnings ...string) *RecordExtraction {
	if !docType.IsValid() {
		docType = DocumentUnknown
	}
	w := make([]string, 0, len(warnings))
	w = append(w, warnings...)
	return &RecordExtraction{
		DocumentType: docType,
		Labs:         []LabResult{},
		Medications:  []Medication{},
		Conditions:   []Condition{},
		Imaging:      []ImagingReport{},
		Vitals:       []VitalSign{},
		Confidence:   0,
		Warnings:     w,
	}
}

// RecordCount returns the number of sub-records across all arrays.
func (e *RecordExtraction) RecordCount() int {
	if e == nil {
		return 0
	}
	return len(e.Labs) + len(e.Medications) + len(e.Conditions) + len(e.Imaging) + len(e.Vitals)
}

// Records flattens the extraction into envelopes, ordered by kind
// (labs, medications, conditions, imaging, vitals) and then array position.
func (e *RecordExtraction) Records() []Record {
	if e == nil {
		return nil
	}
	out := make([]Record, 0, e.RecordCount())
	for _, l := range e.Labs {
		out = append(out, NewLabRecord(l))
	}
	for _, m := range e.Medications {
		out = append(out, NewMedicationRecord(m))
	}
	for _, c := range e.Conditions {
		out = append(out, NewConditionRecord(c))
	}
	for _, i := range e.Imaging {
		out = append(out, NewImagingRecord(i))
	}
	for _, v := range e.Vitals {
		out = append(out, NewVitalRecord(v))
	}
	return out
}

// ClampConfidence forces v into [0,1].  NaN becomes 0.
func ClampConfidence(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

//Personal.AI order the ending
