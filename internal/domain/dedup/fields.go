package dedup

import (
	"math"
	"strings"
	"time"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Field weights per record kind.  Identity-bearing fields (name and date)
// carry most of the weight.
const (
	labNameWeight  = 0.35
	labDateWeight  = 0.35
	labValueWeight = 0.20
	labUnitWeight  = 0.10

	medNameWeight      = 0.40
	medStartWeight     = 0.25
	medDosageWeight    = 0.20
	medFrequencyWeight = 0.15
	medCodeWeight      = 0.30

	condNameWeight   = 0.45
	condOnsetWeight  = 0.30
	condStatusWeight = 0.10
	condCodeWeight   = 0.30

	imgStudyWeight      = 0.30
	imgDateWeight       = 0.40
	imgBodyPartWeight   = 0.10
	imgImpressionWeight = 0.20

	vitalTypeWeight  = 0.35
	vitalDateWeight  = 0.35
	vitalValueWeight = 0.20
	vitalUnitWeight  = 0.10

	// oneSidedScore is used when a field is present on only one side.
	oneSidedScore = 0.5

	// distinctMargin places a pair with conflicting identity just below the
	// review threshold.
	distinctMargin = 0.01
)

// fieldRole marks the fields that identify a record.
type fieldRole int

const (
	roleDetail fieldRole = iota
	roleName
	roleDate
	roleCode
)

// fieldScore is one weighted comparison.  Excluded fields take no part in the
// weighted average.
type fieldScore struct {
	name     string
	weight   float64
	score    float64
	excluded bool
	role     fieldRole
}

func (f fieldScore) as(role fieldRole) fieldScore {
	f.role = role
	return f
}

// combine returns the renormalised weighted average and the per-field scores.
func combine(fs []fieldScore) (float64, map[string]float64) {
	scores := make(map[string]float64, len(fs))
	var sum, weights float64
	for _, f := range fs {
		if f.excluded {
			continue
		}
		scores[f.name] = f.score
		sum += f.weight * f.score
		weights += f.weight
	}
	if weights == 0 {
		return 0, scores
	}
	return clinical.ClampConfidence(sum / weights), scores
}

// pairConfidence combines the field scores and holds a pair whose identity
// conflicts below the review band, however well the detail fields agree.
func (d *Detector) pairConfidence(fs []fieldScore) (float64, map[string]float64) {
	conf, scores := combine(fs)
	if !d.sameIdentity(fs) {
		if limit := d.cfg.ReviewThreshold - distinctMargin; conf > limit {
			conf = math.Max(limit, 0)
		}
	}
	return conf, scores
}

// sameIdentity reports whether the pair can describe one clinical event.  The
// names must match unless both sides carry the same code.  Known dates on
// both sides must fall inside the date window, and codes must not conflict.
func (d *Detector) sameIdentity(fs []fieldScore) bool {
	named, coded := false, false
	for _, f := range fs {
		if f.excluded {
			continue
		}
		switch f.role {
		case roleName:
			named = f.score >= d.cfg.MatchedFieldThreshold
		case roleDate:
			if f.score == 0 {
				return false
			}
		case roleCode:
			if f.score < 1 {
				return false
			}
			coded = true
		}
	}
	return named || coded
}

func (d *Detector) fields(a, b clinical.Record) []fieldScore {
	switch a.Kind {
	case clinical.KindLab:
		return d.labFields(a.Lab, b.Lab)
	case clinical.KindMedication:
		return d.medicationFields(a.Medication, b.Medication)
	case clinical.KindCondition:
		return d.conditionFields(a.Condition, b.Condition)
	case clinical.KindImaging:
		return d.imagingFields(a.Imaging, b.Imaging)
	case clinical.KindVital:
		return d.vitalFields(a.Vital, b.Vital)
	}
	return nil
}

func (d *Detector) labFields(a, b *clinical.LabResult) []fieldScore {
	return []fieldScore{
		d.text("test_name", labNameWeight, a.TestName, b.TestName).as(roleName),
		d.date("collected_at", labDateWeight, a.CollectedAt, b.CollectedAt).as(roleDate),
		d.value("value", labValueWeight, a.Value, b.Value),
		d.text("unit", labUnitWeight, a.Unit, b.Unit),
	}
}

func (d *Detector) medicationFields(a, b *clinical.Medication) []fieldScore {
	return []fieldScore{
		d.text("name", medNameWeight, a.Name, b.Name).as(roleName),
		d.date("start_date", medStartWeight, deref(a.StartDate), deref(b.StartDate)).as(roleDate),
		d.quantity("dosage", medDosageWeight, a.Dosage, b.Dosage),
		d.text("frequency", medFrequencyWeight, a.Frequency, b.Frequency),
		code("code", medCodeWeight, a.Code, b.Code).as(roleCode),
	}
}

func (d *Detector) conditionFields(a, b *clinical.Condition) []fieldScore {
	return []fieldScore{
		d.text("name", condNameWeight, a.Name, b.Name).as(roleName),
		d.date("onset_date", condOnsetWeight, deref(a.OnsetDate), deref(b.OnsetDate)).as(roleDate),
		exact("status", condStatusWeight, string(a.Status), string(b.Status)),
		code("code", condCodeWeight, a.Code, b.Code).as(roleCode),
	}
}

func (d *Detector) imagingFields(a, b *clinical.ImagingReport) []fieldScore {
	return []fieldScore{
		d.text("study_name", imgStudyWeight, a.StudyName, b.StudyName).as(roleName),
		d.date("performed_at", imgDateWeight, a.PerformedAt, b.PerformedAt).as(roleDate),
		d.text("body_part", imgBodyPartWeight, a.BodyPart, b.BodyPart),
		d.text("impression", imgImpressionWeight, a.Impression, b.Impression),
	}
}

func (d *Detector) vitalFields(a, b *clinical.VitalSign) []fieldScore {
	return []fieldScore{
		d.text("type", vitalTypeWeight, a.Type, b.Type).as(roleName),
		d.date("measured_at", vitalDateWeight, a.MeasuredAt, b.MeasuredAt).as(roleDate),
		d.value("value", vitalValueWeight, a.Value, b.Value),
		d.text("unit", vitalUnitWeight, a.Unit, b.Unit),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Field comparators
// ─────────────────────────────────────────────────────────────────────────────

func presence(name string, weight float64, hasA, hasB bool) (fieldScore, bool) {
	switch {
	case !hasA && !hasB:
		return fieldScore{name: name, weight: weight, excluded: true}, true
	case hasA != hasB:
		return fieldScore{name: name, weight: weight, score: oneSidedScore}, true
	}
	return fieldScore{}, false
}

func (d *Detector) text(name string, weight float64, a, b string) fieldScore {
	if f, done := presence(name, weight, strings.TrimSpace(a) != "", strings.TrimSpace(b) != ""); done {
		return f
	}
	return fieldScore{name: name, weight: weight, score: d.scorer.Strings(a, b)}
}

func (d *Detector) quantity(name string, weight float64, a, b string) fieldScore {
	if f, done := presence(name, weight, strings.TrimSpace(a) != "", strings.TrimSpace(b) != ""); done {
		return f
	}
	return fieldScore{name: name, weight: weight, score: d.scorer.Quantities(a, b)}
}

func (d *Detector) value(name string, weight float64, a, b clinical.LabValue) fieldScore {
	if f, done := presence(name, weight, !a.IsZero(), !b.IsZero()); done {
		return f
	}
	return fieldScore{name: name, weight: weight, score: d.scorer.Values(a, b)}
}

func (d *Detector) date(name string, weight float64, a, b time.Time) fieldScore {
	if f, done := presence(name, weight, !a.IsZero(), !b.IsZero()); done {
		return f
	}
	return fieldScore{name: name, weight: weight, score: d.scorer.Dates(a, b)}
}

// exact compares enumerations.
func exact(name string, weight float64, a, b string) fieldScore {
	if f, done := presence(name, weight, a != "", b != ""); done {
		return f
	}
	if strings.EqualFold(a, b) {
		return fieldScore{name: name, weight: weight, score: 1}
	}
	return fieldScore{name: name, weight: weight}
}

// code takes part only when both sides are coded; a coded record against an
// uncoded one tells nothing.
func code(name string, weight float64, a, b string) fieldScore {
	a, b = normalizeCode(a), normalizeCode(b)
	if a == "" || b == "" {
		return fieldScore{name: name, weight: weight, excluded: true}
	}
	if a == b {
		return fieldScore{name: name, weight: weight, score: 1}
	}
	return fieldScore{name: name, weight: weight}
}

func normalizeCode(c string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(c), " ", ""))
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

//Personal.AI order the ending
