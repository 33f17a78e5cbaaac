package record_extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// ---------------------------------------------------------------------------
// Draft records
// ---------------------------------------------------------------------------

// The parser produces drafts: typed fields with identity dates still optional.
// sanitize decides what survives.

type labDraft struct {
	TestName    string
	Value       clinical.LabValue
	Unit        string
	Range       *clinical.ReferenceRange
	Status      string
	CollectedAt *time.Time
}

type medicationDraft struct {
	Name      string
	Dosage    string
	Frequency string
	Route     string
	Status    string
	Code      string
	StartDate *time.Time
}

type conditionDraft struct {
	Name      string
	Status    string
	Code      string
	OnsetDate *time.Time
}

type imagingDraft struct {
	StudyName   string
	Modality    string
	BodyPart    string
	Impression  string
	Status      string
	Code        string
	PerformedAt *time.Time
}

type vitalDraft struct {
	Type       string
	Value      clinical.LabValue
	Unit       string
	MeasuredAt *time.Time
}

// draft is one parsed model answer.
type draft struct {
	PatientName   string
	DateOfService *time.Time
	Facility      string
	Provider      string
	Labs          []labDraft
	Medications   []medicationDraft
	Conditions    []conditionDraft
	Imaging       []imagingDraft
	Vitals        []vitalDraft
	Warnings      []string
}

func (d *draft) warnf(format string, args ...interface{}) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Key folding
// ---------------------------------------------------------------------------

// foldKey maps "testName", "test_name" and "Test-Name" to "testname".
func foldKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range strings.ToLower(k) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// object is a decoded JSON object keyed by folded key.
type object struct {
	fields map[string]json.RawMessage
	orig   map[string]string
}

func decodeObject(raw json.RawMessage) (*object, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	o := &object{fields: make(map[string]json.RawMessage, len(m)), orig: make(map[string]string, len(m))}
	for k, v := range m {
		fk := foldKey(k)
		o.fields[fk] = v
		o.orig[fk] = k
	}
	return o, true
}

// take returns the first present key among names and marks it consumed.
func (o *object) take(names ...string) (json.RawMessage, bool) {
	for _, n := range names {
		if v, ok := o.fields[n]; ok {
			delete(o.fields, n)
			return v, true
		}
	}
	return nil, false
}

// leftovers returns the original spelling of every unconsumed key, sorted.
func (o *object) leftovers() []string {
	out := make([]string, 0, len(o.fields))
	for k := range o.fields {
		out = append(out, o.orig[k])
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// stripFences removes Markdown code fences and any prose around the outermost
// JSON object.
func stripFences(answer string) string {
	s := strings.TrimSpace(answer)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// parseAnswer runs the strict schema step over one model answer.  An error
// means the answer as a whole is unusable and a repair is worth trying;
// per-item problems become warnings on the draft instead.
func parseAnswer(answer string) (*draft, error) {
	body := stripFences(answer)
	if body == "" {
		return nil, errors.New(errors.ErrCodeLLMMalformedResponse, "answer contains no JSON object")
	}
	if !json.Valid([]byte(body)) {
		return nil, errors.New(errors.ErrCodeLLMMalformedResponse, "answer is not valid JSON").
			WithDetail(truncateRunes(body, 80))
	}
	root, ok := decodeObject(json.RawMessage(body))
	if !ok {
		return nil, errors.New(errors.ErrCodeExtractionSchemaError, "answer is not a JSON object")
	}

	d := &draft{}
	d.PatientName = readString(d, root, "patientName", "patientname", "patient", "name")
	d.DateOfService = readDate(d, root, "dateOfService", "dateofservice", "servicedate", "date", "encounterdate")
	d.Facility = readString(d, root, "facility", "facility", "hospital", "clinic")
	d.Provider = readString(d, root, "provider", "provider", "physician", "doctor", "orderingprovider")

	// Keys the model sometimes echoes back; harmless.
	root.take("documenttype", "confidence", "warnings", "notes")

	arrays := []struct {
		keys []string
		fn   func(*draft, int, *object)
	}{
		{[]string{"labs", "labresults", "results", "laboratory"}, parseLab},
		{[]string{"medications", "meds", "medicationlist"}, parseMedication},
		{[]string{"conditions", "diagnoses", "problems", "problemlist"}, parseCondition},
		{[]string{"imaging", "imagingreports", "studies"}, parseImaging},
		{[]string{"vitals", "vitalsigns"}, parseVital},
	}
	for _, a := range arrays {
		raw, present := root.take(a.keys...)
		if !present || isNull(raw) {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExtractionSchemaError,
				fmt.Sprintf("%q must be an array", a.keys[0]))
		}
		for i, item := range items {
			obj, ok := decodeObject(item)
			if !ok {
				d.warnf("%s[%d] is not an object and was ignored", a.keys[0], i)
				continue
			}
			a.fn(d, i, obj)
		}
	}
	for _, k := range root.leftovers() {
		d.warnf("ignored unknown field %q", k)
	}
	return d, nil
}

func parseLab(d *draft, i int, o *object) {
	l := labDraft{
		TestName:    readString(d, o, "labs.testName", "testname", "test", "name", "analyte"),
		Value:       readValue(d, o, "labs.value", "value", "result"),
		Unit:        readString(d, o, "labs.unit", "unit", "units"),
		Range:       readRange(d, o, "labs.referenceRange", "referencerange", "range", "refrange", "normalrange"),
		Status:      readString(d, o, "labs.status", "status", "flag", "abnormalflag"),
		CollectedAt: readDate(d, o, "labs.collectedAt", "collectedat", "collectiondate", "date", "resultdate"),
	}
	warnLeftovers(d, fmt.Sprintf("labs[%d]", i), o)
	d.Labs = append(d.Labs, l)
}

func parseMedication(d *draft, i int, o *object) {
	m := medicationDraft{
		Name:      readString(d, o, "medications.name", "name", "medication", "drug"),
		Dosage:    readString(d, o, "medications.dosage", "dosage", "dose", "strength"),
		Frequency: readString(d, o, "medications.frequency", "frequency", "sig", "schedule"),
		Route:     readString(d, o, "medications.route", "route"),
		Status:    readString(d, o, "medications.status", "status"),
		Code:      readString(d, o, "medications.code", "code", "rxnorm", "rxcui"),
		StartDate: readDate(d, o, "medications.startDate", "startdate", "started", "date"),
	}
	warnLeftovers(d, fmt.Sprintf("medications[%d]", i), o)
	d.Medications = append(d.Medications, m)
}

func parseCondition(d *draft, i int, o *object) {
	c := conditionDraft{
		Name:      readString(d, o, "conditions.name", "name", "condition", "diagnosis", "description"),
		Status:    readString(d, o, "conditions.status", "status"),
		Code:      readString(d, o, "conditions.code", "code", "icd10", "icd"),
		OnsetDate: readDate(d, o, "conditions.onsetDate", "onsetdate", "onset", "date"),
	}
	warnLeftovers(d, fmt.Sprintf("conditions[%d]", i), o)
	d.Conditions = append(d.Conditions, c)
}

func parseImaging(d *draft, i int, o *object) {
	im := imagingDraft{
		StudyName:   readString(d, o, "imaging.studyName", "studyname", "study", "name", "exam"),
		Modality:    readString(d, o, "imaging.modality", "modality"),
		BodyPart:    readString(d, o, "imaging.bodyPart", "bodypart", "region", "site"),
		Impression:  readString(d, o, "imaging.impression", "impression", "findings", "conclusion"),
		Status:      readString(d, o, "imaging.status", "status"),
		Code:        readString(d, o, "imaging.code", "code", "cpt"),
		PerformedAt: readDate(d, o, "imaging.performedAt", "performedat", "studydate", "date"),
	}
	warnLeftovers(d, fmt.Sprintf("imaging[%d]", i), o)
	d.Imaging = append(d.Imaging, im)
}

func parseVital(d *draft, i int, o *object) {
	v := vitalDraft{
		Type:       readString(d, o, "vitals.type", "type", "name", "vital"),
		Value:      readValue(d, o, "vitals.value", "value", "reading"),
		Unit:       readString(d, o, "vitals.unit", "unit", "units"),
		MeasuredAt: readDate(d, o, "vitals.measuredAt", "measuredat", "date", "takenat"),
	}
	warnLeftovers(d, fmt.Sprintf("vitals[%d]", i), o)
	d.Vitals = append(d.Vitals, v)
}

func warnLeftovers(d *draft, where string, o *object) {
	for _, k := range o.leftovers() {
		d.warnf("%s: ignored unknown field %q", where, k)
	}
}

// ---------------------------------------------------------------------------
// Field coercion
// ---------------------------------------------------------------------------

// The first argument of each reader is the schema path used in warnings; the
// rest are folded key spellings tried in order.

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func readString(d *draft, o *object, path string, keys ...string) string {
	raw, ok := o.take(keys...)
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	d.warnf("%s: expected a string, ignored %s", path, truncateRunes(string(raw), 40))
	return ""
}

func readValue(d *draft, o *object, path string, keys ...string) clinical.LabValue {
	raw, ok := o.take(keys...)
	if !ok || isNull(raw) {
		return clinical.LabValue{}
	}
	var v clinical.LabValue
	if err := json.Unmarshal(raw, &v); err != nil {
		d.warnf("%s: expected a number or string, ignored %s", path, truncateRunes(string(raw), 40))
		return clinical.LabValue{}
	}
	return v
}

var rangePattern = regexp.MustCompile(`^\s*(-?[0-9]*\.?[0-9]+)\s*(?:-|–|to)\s*(-?[0-9]*\.?[0-9]+)`)

func readRange(d *draft, o *object, path string, keys ...string) *clinical.ReferenceRange {
	raw, ok := o.take(keys...)
	if !ok || isNull(raw) {
		return nil
	}
	var rr struct {
		Low  *float64 `json:"low"`
		High *float64 `json:"high"`
	}
	if err := json.Unmarshal(raw, &rr); err == nil {
		if rr.Low == nil && rr.High == nil {
			return nil
		}
		return &clinical.ReferenceRange{Low: rr.Low, High: rr.High}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if m := rangePattern.FindStringSubmatch(s); m != nil {
			lo, errLo := strconv.ParseFloat(m[1], 64)
			hi, errHi := strconv.ParseFloat(m[2], 64)
			if errLo == nil && errHi == nil && lo <= hi {
				return &clinical.ReferenceRange{Low: &lo, High: &hi}
			}
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
	}
	d.warnf("%s: unreadable reference range %s", path, truncateRunes(string(raw), 40))
	return nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02-Jan-2006",
}

// blankDates are answers that mean "no date".
var blankDates = map[string]bool{
	"": true, "unknown": true, "n/a": true, "na": true, "none": true, "not stated": true, "unclear": true,
}

// parseDate accepts the layouts above and returns the calendar day in UTC.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func readDate(d *draft, o *object, path string, keys ...string) *time.Time {
	s := readString(d, o, path, keys...)
	if blankDates[strings.ToLower(s)] {
		return nil
	}
	t, ok := parseDate(s)
	if !ok {
		d.warnf("%s: unreadable date %q", path, truncateRunes(s, 40))
		return nil
	}
	return &t
}

//Personal.AI order the ending
