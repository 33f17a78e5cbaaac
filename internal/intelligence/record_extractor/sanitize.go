package record_extractor

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// placeholderNames are answers that stand in for a missing name.
var placeholderNames = map[string]bool{
	"unknown": true, "n/a": true, "none": true, "null": true, "unclear": true,
	"illegible": true, "medication": true, "drug": true, "tbd": true, "-": true, "?": true,
	"not specified": true, "unspecified": true,
}

// usableName reports whether s can identify a record: it must contain a
// letter and must not be a placeholder.
func usableName(s string) bool {
	s = strings.TrimSpace(s)
	if placeholderNames[strings.ToLower(s)] {
		return false
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// quality collects the inputs of the confidence score while sanitising.
type quality struct {
	expected  int
	populated int
	checked   int
	plausible int
}

func (q *quality) fields(present ...bool) {
	q.expected += len(present)
	for _, p := range present {
		if p {
			q.populated++
		}
	}
}

// sanitizer turns a draft into a RecordExtraction.  It drops records whose
// identity fields are missing or implausible and never invents them.
type sanitizer struct {
	now      time.Time
	inherit  bool
	validate *validator.Validate
	out      *clinical.RecordExtraction
	q        quality
}

func newSanitizer(now time.Time, inherit bool, v *validator.Validate) *sanitizer {
	return &sanitizer{now: now, inherit: inherit, validate: v}
}

func (s *sanitizer) warnf(format string, args ...interface{}) {
	s.out.Warnings = append(s.out.Warnings, fmt.Sprintf(format, args...))
}

// inFuture reports whether t falls on a calendar day after today (UTC).
func (s *sanitizer) inFuture(t time.Time) bool {
	n := s.now.UTC()
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return t.UTC().After(today.AddDate(0, 0, 1).Add(-time.Nanosecond))
}

// identityDate resolves the date a record is keyed on.  A record without its
// own date borrows the document's date of service when allowed.
func (s *sanitizer) identityDate(own *time.Time) (time.Time, string) {
	switch {
	case own != nil && s.inFuture(*own):
		return time.Time{}, fmt.Sprintf("date %s is in the future", own.Format("2006-01-02"))
	case own != nil:
		return *own, ""
	case s.inherit && s.out.DateOfService != nil:
		return *s.out.DateOfService, ""
	}
	return time.Time{}, "date is missing"
}

// optionalDate clears a future date with a warning.
func (s *sanitizer) optionalDate(what string, t *time.Time) *time.Time {
	if t != nil && s.inFuture(*t) {
		s.warnf("%s: cleared future date %s", what, t.Format("2006-01-02"))
		return nil
	}
	return t
}

func (s *sanitizer) valid(what string, v interface{}) bool {
	if err := s.validate.Struct(v); err != nil {
		s.warnf("dropped %s: failed schema validation (%s)", what, summarizeValidation(err))
		return false
	}
	return true
}

func summarizeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func (s *sanitizer) run(d *draft, docType clinical.DocumentType) (*clinical.RecordExtraction, quality) {
	s.out = clinical.NewEmptyExtraction(docType, d.Warnings...)
	s.out.PatientName = d.PatientName
	s.out.Facility = d.Facility
	s.out.Provider = d.Provider
	s.out.DateOfService = s.optionalDate("date of service", d.DateOfService)

	for i, l := range d.Labs {
		s.lab(i, l)
	}
	for i, m := range d.Medications {
		s.medication(i, m)
	}
	for i, c := range d.Conditions {
		s.condition(i, c)
	}
	for i, im := range d.Imaging {
		s.imaging(i, im)
	}
	for i, v := range d.Vitals {
		s.vital(i, v)
	}
	return s.out, s.q
}

func (s *sanitizer) lab(i int, d labDraft) {
	what := fmt.Sprintf("lab #%d %q", i+1, d.TestName)
	if !usableName(d.TestName) {
		s.warnf("dropped lab #%d: missing test name", i+1)
		return
	}
	if d.Value.IsZero() {
		s.warnf("dropped %s: missing value", what)
		return
	}
	at, why := s.identityDate(d.CollectedAt)
	if why != "" {
		s.warnf("dropped %s: collection %s", what, why)
		return
	}

	status, ok := clinical.ParseLabStatus(d.Status)
	if !ok {
		if d.Status != "" {
			s.warnf("%s: unrecognised status %q", what, d.Status)
		}
		status = deriveLabStatus(d.Value, d.Range)
	}
	res := clinical.LabResult{
		TestName:       d.TestName,
		Value:          d.Value,
		Unit:           d.Unit,
		ReferenceRange: d.Range,
		Status:         status,
		CollectedAt:    at,
	}
	if !s.valid(what, res) {
		return
	}
	s.q.fields(true, true, d.Unit != "", d.Range != nil, d.Status != "", d.CollectedAt != nil)
	s.checkPlausible(what, plausibleLab(d.TestName, d.Value, d.Unit))
	s.out.Labs = append(s.out.Labs, res)
}

func (s *sanitizer) medication(i int, d medicationDraft) {
	if !usableName(d.Name) {
		s.warnf("dropped medication #%d: no recognisable name (%q)", i+1, d.Name)
		return
	}
	what := fmt.Sprintf("medication %q", d.Name)

	status, ok := clinical.ParseMedicationStatus(d.Status)
	if !ok && d.Status != "" {
		s.warnf("%s: unrecognised status %q", what, d.Status)
	}
	m := clinical.Medication{
		Name:      d.Name,
		Dosage:    d.Dosage,
		Frequency: d.Frequency,
		Route:     d.Route,
		Status:    status,
		Code:      d.Code,
		StartDate: s.optionalDate(what, d.StartDate),
	}
	if s.valid(what, m) {
		s.q.fields(true, d.Dosage != "", d.Frequency != "", d.Route != "", d.Status != "")
		s.out.Medications = append(s.out.Medications, m)
	}
}

func (s *sanitizer) condition(i int, d conditionDraft) {
	if !usableName(d.Name) {
		s.warnf("dropped condition #%d: missing name", i+1)
		return
	}
	what := fmt.Sprintf("condition %q", d.Name)

	status, ok := clinical.ParseConditionStatus(d.Status)
	if !ok && d.Status != "" {
		s.warnf("%s: unrecognised status %q", what, d.Status)
	}
	c := clinical.Condition{
		Name:      d.Name,
		Status:    status,
		Code:      d.Code,
		OnsetDate: s.optionalDate(what, d.OnsetDate),
	}
	if s.valid(what, c) {
		s.q.fields(true, d.Status != "", d.OnsetDate != nil)
		s.out.Conditions = append(s.out.Conditions, c)
	}
}

func (s *sanitizer) imaging(i int, d imagingDraft) {
	if !usableName(d.StudyName) {
		s.warnf("dropped imaging study #%d: missing study name", i+1)
		return
	}
	what := fmt.Sprintf("imaging study %q", d.StudyName)
	at, why := s.identityDate(d.PerformedAt)
	if why != "" {
		s.warnf("dropped %s: study %s", what, why)
		return
	}

	status, ok := clinical.ParseImagingStatus(d.Status)
	if !ok && d.Status != "" {
		s.warnf("%s: unrecognised status %q", what, d.Status)
	}
	im := clinical.ImagingReport{
		StudyName:   d.StudyName,
		Modality:    d.Modality,
		BodyPart:    d.BodyPart,
		Impression:  d.Impression,
		Status:      status,
		Code:        d.Code,
		PerformedAt: at,
	}
	if s.valid(what, im) {
		s.q.fields(true, d.Modality != "", d.BodyPart != "", d.Impression != "", d.PerformedAt != nil)
		s.out.Imaging = append(s.out.Imaging, im)
	}
}

func (s *sanitizer) vital(i int, d vitalDraft) {
	if !usableName(d.Type) {
		s.warnf("dropped vital sign #%d: missing type", i+1)
		return
	}
	what := fmt.Sprintf("vital sign %q", d.Type)
	if d.Value.IsZero() {
		s.warnf("dropped %s: missing value", what)
		return
	}
	at, why := s.identityDate(d.MeasuredAt)
	if why != "" {
		s.warnf("dropped %s: measurement %s", what, why)
		return
	}
	v := clinical.VitalSign{Type: d.Type, Value: d.Value, Unit: d.Unit, MeasuredAt: at}
	if !s.valid(what, v) {
		return
	}
	s.q.fields(true, true, d.Unit != "", d.MeasuredAt != nil)
	s.checkPlausible(what, plausibleVital(d.Type, d.Value, d.Unit))
	s.out.Vitals = append(s.out.Vitals, v)
}

// checkPlausible records a consistency observation.  verdict is nil when the
// value has no known range.
func (s *sanitizer) checkPlausible(what string, verdict *plausibility) {
	if verdict == nil {
		return
	}
	s.q.checked++
	if verdict.ok {
		s.q.plausible++
		return
	}
	s.warnf("%s: value %s is outside the plausible range %s", what, verdict.value, verdict.bounds)
}

// deriveLabStatus flags a numeric value against its reference range.
func deriveLabStatus(v clinical.LabValue, rr *clinical.ReferenceRange) clinical.LabStatus {
	f, ok := v.Coerce()
	if !ok || rr == nil {
		return ""
	}
	if rr.Low != nil && f < *rr.Low {
		return clinical.LabStatusLow
	}
	if rr.High != nil && f > *rr.High {
		return clinical.LabStatusHigh
	}
	return clinical.LabStatusNormal
}

//Personal.AI order the ending
