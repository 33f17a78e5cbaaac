package clinical

import (
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		in   string
		want DocumentType
	}{
		{"lab-report", DocumentLabReport},
		{"LAB_REPORT", DocumentLabReport},
		{"Discharge Summary", DocumentDischargeSummary},
		{"medication-list", DocumentMedicationList},
		{"invoice", DocumentUnknown},
		{"", DocumentUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseDocumentType(tt.in), tt.in)
	}
	assert.Len(t, AllDocumentTypes(), 6)
}

func TestParseRecordKind(t *testing.T) {
	k, ok := ParseRecordKind("labs")
	assert.True(t, ok)
	assert.Equal(t, KindLab, k)

	k, ok = ParseRecordKind("Medications")
	assert.True(t, ok)
	assert.Equal(t, KindMedication, k)

	_, ok = ParseRecordKind("allergies")
	assert.False(t, ok)
}

func TestParseStatuses(t *testing.T) {
	s, ok := ParseLabStatus("H")
	assert.True(t, ok)
	assert.Equal(t, LabStatusHigh, s)

	s, ok = ParseLabStatus("panic")
	assert.True(t, ok)
	assert.Equal(t, LabStatusCritical, s)

	_, ok = ParseLabStatus("sideways")
	assert.False(t, ok)

	m, ok := ParseMedicationStatus("D/C")
	assert.True(t, ok)
	assert.Equal(t, MedicationDiscontinued, m)

	c, ok := ParseConditionStatus("history of")
	assert.True(t, ok)
	assert.Equal(t, ConditionResolved, c)

	i, ok := ParseImagingStatus("prelim")
	assert.True(t, ok)
	assert.Equal(t, ImagingPreliminary, i)
}

// ─────────────────────────────────────────────────────────────────────────────
// LabValue
// ─────────────────────────────────────────────────────────────────────────────

func TestLabValue_Coerce(t *testing.T) {
	tests := []struct {
		name string
		v    LabValue
		want float64
		ok   bool
	}{
		{"numeric", NumericValue(130), 130, true},
		{"numeric text", TextValue("14.2"), 14.2, true},
		{"with unit", TextValue("130 mmol/L"), 130, true},
		{"qualifier", TextValue("<5"), 0, false},
		{"categorical", TextValue("positive"), 0, false},
		{"empty", LabValue{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Coerce()
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestLabValue_Precision(t *testing.T) {
	v, ok := NumericValueFromLiteral("14.2")
	require.True(t, ok)
	assert.InDelta(t, 0.1, v.Precision(), 1e-12)

	v, _ = NumericValueFromLiteral("0.035")
	assert.InDelta(t, 0.001, v.Precision(), 1e-12)

	assert.Equal(t, 1.0, NumericValue(130).Precision())
	assert.Equal(t, 0.0, TextValue("trace").Precision())
}

func TestLabValue_JSON(t *testing.T) {
	type wrapper struct {
		V LabValue `json:"v"`
	}

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"v": 14.20}`), &w))
	assert.True(t, w.V.IsNumeric())
	assert.Equal(t, "14.20", w.V.String())
	assert.InDelta(t, 0.01, w.V.Precision(), 1e-12)

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v": 14.20}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"v": "Positive"}`), &w))
	assert.False(t, w.V.IsNumeric())
	out, err = json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v": "Positive"}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"v": null}`), &w))
	assert.True(t, w.V.IsZero())
}

// ─────────────────────────────────────────────────────────────────────────────
// Record envelope and extraction
// ─────────────────────────────────────────────────────────────────────────────

func TestRecord_Validate(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, NewLabRecord(LabResult{TestName: "Hemoglobin", CollectedAt: day}).Validate())
	assert.NoError(t, NewMedicationRecord(Medication{Name: "Metformin"}).Validate())

	mismatched := Record{Kind: KindLab, Medication: &Medication{Name: "x"}}
	assert.Error(t, mismatched.Validate())

	empty := Record{Kind: KindLab}
	assert.Error(t, empty.Validate())

	unknown := Record{Kind: "allergy", Lab: &LabResult{}}
	assert.Error(t, unknown.Validate())
}

func TestRecord_NameAndDate(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	r := NewLabRecord(LabResult{TestName: "Sodium", CollectedAt: day})
	assert.Equal(t, "Sodium", r.Name())
	assert.Equal(t, day, r.Date())

	med := NewMedicationRecord(Medication{Name: "Lisinopril"})
	assert.True(t, med.Date().IsZero())
}

func TestRecordExtraction_Records(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	e := NewEmptyExtraction(DocumentLabReport)
	e.Labs = append(e.Labs, LabResult{TestName: "Sodium", CollectedAt: day})
	e.Conditions = append(e.Conditions, Condition{Name: "Hypertension"})
	e.Medications = append(e.Medications, Medication{Name: "Lisinopril"})

	recs := e.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, KindLab, recs[0].Kind)
	assert.Equal(t, KindMedication, recs[1].Kind)
	assert.Equal(t, KindCondition, recs[2].Kind)
	assert.Equal(t, 3, e.RecordCount())

	var nilExt *RecordExtraction
	assert.Equal(t, 0, nilExt.RecordCount())
}

func TestNewEmptyExtraction(t *testing.T) {
	e := NewEmptyExtraction("bogus", "llm unavailable")
	assert.Equal(t, DocumentUnknown, e.DocumentType)
	assert.NotNil(t, e.Labs)
	assert.NotNil(t, e.Vitals)
	assert.Equal(t, 0.0, e.Confidence)
	assert.Equal(t, []string{"llm unavailable"}, e.Warnings)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

//Personal.AI order the ending
