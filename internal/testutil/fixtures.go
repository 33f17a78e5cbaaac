package testutil

import (
	"time"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayPtr is Day returning a pointer, for optional date fields.
func DayPtr(year int, month time.Month, day int) *time.Time {
	d := Day(year, month, day)
	return &d
}

// Lab builds a numeric lab result.
func Lab(name string, value float64, unit string, collected time.Time) clinical.LabResult {
	return clinical.LabResult{
		TestName:    name,
		Value:       clinical.NumericValue(value),
		Unit:        unit,
		CollectedAt: collected,
	}
}

// LabLiteral builds a lab result keeping the reported literal, e.g. "14.2".
func LabLiteral(name, literal, unit string, collected time.Time) clinical.LabResult {
	return clinical.LabResult{
		TestName:    name,
		Value:       clinical.TextValue(literal),
		Unit:        unit,
		CollectedAt: collected,
	}
}

// Stored wraps a record as a StoredRecord with the given id.
func Stored(id string, rec clinical.Record) clinical.StoredRecord {
	return clinical.StoredRecord{ID: id, Record: rec, CreatedAt: Day(2024, time.February, 1)}
}

// SampleLabReport is a short lab report used across packages.
const SampleLabReport = `CITY GENERAL HOSPITAL LABORATORY
Patient: Jane Doe            DOB: 1961-04-02
Collected: 01/15/2024 07:45   Ordering Provider: Dr. A. Patel

TEST                RESULT    FLAG   UNITS      REFERENCE RANGE
Sodium              130       L      mmol/L     135-145
Potassium           4.1              mmol/L     3.5-5.1
BUN                 38        H      mg/dL      7-20
Creatinine          1.5       H      mg/dL      0.6-1.2
Hemoglobin          14.2             g/dL       12.0-16.0
`

// SampleExtractionJSON is an LLM response matching SampleLabReport.
const SampleExtractionJSON = `{
  "patientName": "Jane Doe",
  "dateOfService": "2024-01-15",
  "facility": "City General Hospital",
  "provider": "Dr. A. Patel",
  "labs": [
    {"testName": "Sodium", "value": 130, "unit": "mmol/L", "referenceRange": {"low": 135, "high": 145}, "status": "L", "collectedAt": "2024-01-15"},
    {"testName": "Potassium", "value": 4.1, "unit": "mmol/L", "referenceRange": {"low": 3.5, "high": 5.1}, "status": "normal", "collectedAt": "2024-01-15"},
    {"testName": "BUN", "value": 38, "unit": "mg/dL", "status": "H", "collectedAt": "2024-01-15"},
    {"testName": "Creatinine", "value": 1.5, "unit": "mg/dL", "status": "H", "collectedAt": "2024-01-15"},
    {"testName": "Hemoglobin", "value": 14.2, "unit": "g/dL", "status": "normal", "collectedAt": "2024-01-15"}
  ],
  "medications": [],
  "conditions": [],
  "imaging": [],
  "vitals": []
}`

//Personal.AI order the ending
