package clinical

import (
	"fmt"
	"strings"
	"time"
)

// RecordKind names a typed collection in the longitudinal store.
type RecordKind string

const (
	KindLab        RecordKind = "lab"
	KindMedication RecordKind = "medication"
	KindCondition  RecordKind = "condition"
	KindImaging    RecordKind = "imaging"
	KindVital      RecordKind = "vital"
)

// AllRecordKinds returns every record kind in commit order.
func AllRecordKinds() []RecordKind {
	return []RecordKind{KindLab, KindMedication, KindCondition, KindImaging, KindVital}
}

// IsValid checks if the RecordKind is known.
func (k RecordKind) IsValid() bool {
	switch k {
	case KindLab, KindMedication, KindCondition, KindImaging, KindVital:
		return true
	default:
		return false
	}
}

func (k RecordKind) String() string { return string(k) }

// ParseRecordKind accepts singular or plural collection names.
func ParseRecordKind(s string) (RecordKind, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, "s")
	if norm == "lab-result" || norm == "lab_result" {
		norm = "lab"
	}
	k := RecordKind(norm)
	return k, k.IsValid()
}

// ─────────────────────────────────────────────────────────────────────────────
// Status enums
// ─────────────────────────────────────────────────────────────────────────────

// LabStatus flags a lab result against its reference range.
type LabStatus string

const (
	LabStatusNormal   LabStatus = "normal"
	LabStatusHigh     LabStatus = "high"
	LabStatusLow      LabStatus = "low"
	LabStatusCritical LabStatus = "critical"
)

// ParseLabStatus normalises report flags ("H", "LL", "panic", "WNL").
func ParseLabStatus(s string) (LabStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "n", "wnl", "within normal limits", "in range":
		return LabStatusNormal, true
	case "high", "h", "hi", "elevated", "abnormal high", "above range":
		return LabStatusHigh, true
	case "low", "l", "lo", "decreased", "abnormal low", "below range":
		return LabStatusLow, true
	case "critical", "crit", "c", "panic", "hh", "ll", "critical high", "critical low":
		return LabStatusCritical, true
	}
	return "", false
}

// MedicationStatus is the state of a medication order.
type MedicationStatus string

const (
	MedicationActive       MedicationStatus = "active"
	MedicationDiscontinued MedicationStatus = "discontinued"
	MedicationCompleted    MedicationStatus = "completed"
	MedicationOnHold       MedicationStatus = "on-hold"
)

// ParseMedicationStatus normalises free-text medication status.
func ParseMedicationStatus(s string) (MedicationStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "current", "continue", "continued", "taking", "new", "started":
		return MedicationActive, true
	case "discontinued", "stopped", "stop", "dc", "d/c", "inactive":
		return MedicationDiscontinued, true
	case "completed", "finished", "complete":
		return MedicationCompleted, true
	case "on-hold", "on hold", "held", "hold", "paused":
		return MedicationOnHold, true
	}
	return "", false
}

// ConditionStatus is the clinical status of a diagnosis.
type ConditionStatus string

const (
	ConditionActive   ConditionStatus = "active"
	ConditionResolved ConditionStatus = "resolved"
	ConditionInactive ConditionStatus = "inactive"
)

// ParseConditionStatus normalises free-text condition status.
func ParseConditionStatus(s string) (ConditionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "current", "ongoing", "chronic", "new":
		return ConditionActive, true
	case "resolved", "history of", "past", "cured":
		return ConditionResolved, true
	case "inactive", "remission", "in remission", "controlled":
		return ConditionInactive, true
	}
	return "", false
}

// ImagingStatus is the report status of an imaging study.
type ImagingStatus string

const (
	ImagingFinal       ImagingStatus = "final"
	ImagingPreliminary ImagingStatus = "preliminary"
	ImagingAmended     ImagingStatus = "amended"
)

// ParseImagingStatus normalises free-text report status.
func ParseImagingStatus(s string) (ImagingStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "final", "signed", "finalized":
		return ImagingFinal, true
	case "preliminary", "prelim", "wet read", "pending":
		return ImagingPreliminary, true
	case "amended", "addendum", "corrected":
		return ImagingAmended, true
	}
	return "", false
}

// ─────────────────────────────────────────────────────────────────────────────
// Record payloads
// ─────────────────────────────────────────────────────────────────────────────

// ReferenceRange is a lab reference interval.  Either bound may be absent.
type ReferenceRange struct {
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

// LabResult is one lab measurement.  Identity for de-duplication is the tuple
// (TestName, CollectedAt, Value).
type LabResult struct {
	TestName       string          `json:"test_name" validate:"required,max=200"`
	Value          LabValue        `json:"value"`
	Unit           string          `json:"unit,omitempty" validate:"max=50"`
	ReferenceRange *ReferenceRange `json:"reference_range,omitempty"`
	Status         LabStatus       `json:"status,omitempty" validate:"omitempty,oneof=normal high low critical"`
	CollectedAt    time.Time       `json:"collected_at"`
}

// Medication is one medication entry.
type Medication struct {
	Name      string           `json:"name" validate:"required,max=200"`
	Dosage    string           `json:"dosage,omitempty" validate:"max=100"`
	Frequency string           `json:"frequency,omitempty" validate:"max=100"`
	Route     string           `json:"route,omitempty" validate:"max=50"`
	Status    MedicationStatus `json:"status,omitempty" validate:"omitempty,oneof=active discontinued completed on-hold"`
	Code      string           `json:"code,omitempty" validate:"max=50"`
	StartDate *time.Time       `json:"start_date,omitempty"`
}

// Condition is one diagnosis or problem-list entry.
type Condition struct {
	Name      string          `json:"name" validate:"required,max=300"`
	Status    ConditionStatus `json:"status,omitempty" validate:"omitempty,oneof=active resolved inactive"`
	Code      string          `json:"code,omitempty" validate:"max=50"`
	OnsetDate *time.Time      `json:"onset_date,omitempty"`
}

// ImagingReport is one imaging study with its impression.
type ImagingReport struct {
	StudyName   string        `json:"study_name" validate:"required,max=300"`
	Modality    string        `json:"modality,omitempty" validate:"max=50"`
	BodyPart    string        `json:"body_part,omitempty" validate:"max=100"`
	Impression  string        `json:"impression,omitempty" validate:"max=4000"`
	Status      ImagingStatus `json:"status,omitempty" validate:"omitempty,oneof=final preliminary amended"`
	Code        string        `json:"code,omitempty" validate:"max=50"`
	PerformedAt time.Time     `json:"performed_at"`
}

// VitalSign is one vital-sign measurement.
type VitalSign struct {
	Type       string    `json:"type" validate:"required,max=100"`
	Value      LabValue  `json:"value"`
	Unit       string    `json:"unit,omitempty" validate:"max=50"`
	MeasuredAt time.Time `json:"measured_at"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Record envelope
// ─────────────────────────────────────────────────────────────────────────────

// Record wraps exactly one typed payload together with its kind.
type Record struct {
	Kind       RecordKind     `json:"kind"`
	Lab        *LabResult     `json:"lab,omitempty"`
	Medication *Medication    `json:"medication,omitempty"`
	Condition  *Condition     `json:"condition,omitempty"`
	Imaging    *ImagingReport `json:"imaging,omitempty"`
	Vital      *VitalSign     `json:"vital,omitempty"`
}

// NewLabRecord wraps a lab result.
func NewLabRecord(l LabResult) Record { return Record{Kind: KindLab, Lab: &l} }

// NewMedicationRecord wraps a medication.
func NewMedicationRecord(m Medication) Record { return Record{Kind: KindMedication, Medication: &m} }

// NewConditionRecord wraps a condition.
func NewConditionRecord(c Condition) Record { return Record{Kind: KindCondition, Condition: &c} }

// NewImagingRecord wraps an imaging report.
func NewImagingRecord(i ImagingReport) Record { return Record{Kind: KindImaging, Imaging: &i} }

// NewVitalRecord wraps a vital sign.
func NewVitalRecord(v VitalSign) Record { return Record{Kind: KindVital, Vital: &v} }

// Validate checks that exactly the payload matching Kind is set.
func (r Record) Validate() error {
	set := 0
	for _, present := range []bool{r.Lab != nil, r.Medication != nil, r.Condition != nil, r.Imaging != nil, r.Vital != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("clinical: record must carry exactly one payload, got %d", set)
	}
	var ok bool
	switch r.Kind {
	case KindLab:
		ok = r.Lab != nil
	case KindMedication:
		ok = r.Medication != nil
	case KindCondition:
		ok = r.Condition != nil
	case KindImaging:
		ok = r.Imaging != nil
	case KindVital:
		ok = r.Vital != nil
	default:
		return fmt.Errorf("clinical: unknown record kind %q", r.Kind)
	}
	if !ok {
		return fmt.Errorf("clinical: payload does not match kind %q", r.Kind)
	}
	return nil
}

// Name returns the identifying name of the payload.
func (r Record) Name() string {
	switch {
	case r.Lab != nil:
		return r.Lab.TestName
	case r.Medication != nil:
		return r.Medication.Name
	case r.Condition != nil:
		return r.Condition.Name
	case r.Imaging != nil:
		return r.Imaging.StudyName
	case r.Vital != nil:
		return r.Vital.Type
	}
	return ""
}

// Date returns the clinically relevant date of the payload, or the zero time.
func (r Record) Date() time.Time {
	switch {
	case r.Lab != nil:
		return r.Lab.CollectedAt
	case r.Medication != nil && r.Medication.StartDate != nil:
		return *r.Medication.StartDate
	case r.Condition != nil && r.Condition.OnsetDate != nil:
		return *r.Condition.OnsetDate
	case r.Imaging != nil:
		return r.Imaging.PerformedAt
	case r.Vital != nil:
		return r.Vital.MeasuredAt
	}
	return time.Time{}
}

// StoredRecord is a record committed to the longitudinal store.
type StoredRecord struct {
	ID            string    `json:"id"`
	Record        Record    `json:"record"`
	SourceSession string    `json:"source_session,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

//Personal.AI order the ending
