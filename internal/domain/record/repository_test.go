package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

func TestFilter_Matches(t *testing.T) {
	lab := clinical.NewLabRecord(testutil.Lab("Sodium", 130, "mmol/L", testutil.Day(2024, time.January, 15)))
	undated := clinical.NewConditionRecord(clinical.Condition{Name: "Hypertension"})

	tests := []struct {
		name   string
		filter Filter
		rec    clinical.Record
		want   bool
	}{
		{"empty filter", Filter{}, lab, true},
		{"name case-insensitive", Filter{Name: " sodium"}, lab, true},
		{"name mismatch", Filter{Name: "Potassium"}, lab, false},
		{"inside window", Filter{Since: testutil.Day(2024, 1, 1), Until: testutil.Day(2024, 1, 31)}, lab, true},
		{"since is inclusive", Filter{Since: testutil.Day(2024, 1, 15)}, lab, true},
		{"before window", Filter{Since: testutil.Day(2024, 2, 1)}, lab, false},
		{"after window", Filter{Until: testutil.Day(2024, 1, 14)}, lab, false},
		{"undated without bounds", Filter{Name: "hypertension"}, undated, true},
		{"undated with bounds", Filter{Since: testutil.Day(2024, 1, 1)}, undated, false},
		{"undated included", Filter{Since: testutil.Day(2024, 1, 1), IncludeUndated: true}, undated, true},
		{"dated outside with undated", Filter{Since: testutil.Day(2024, 2, 1), IncludeUndated: true}, lab, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.rec))
		})
	}
}

func TestCandidateWindow(t *testing.T) {
	at := testutil.Day(2024, 1, 15)
	f := CandidateWindow(at, 30)
	assert.Equal(t, at.AddDate(0, 0, -30), f.Since)
	assert.Equal(t, at.AddDate(0, 0, 30), f.Until)
	assert.True(t, f.IncludeUndated)
	assert.Equal(t, Filter{}, CandidateWindow(time.Time{}, 30))
}

func TestCheckAppend(t *testing.T) {
	lab := clinical.NewLabRecord(testutil.Lab("Sodium", 130, "mmol/L", testutil.Day(2024, 1, 15)))

	assert.NoError(t, CheckAppend(clinical.KindLab, lab))
	assert.True(t, errors.IsCode(CheckAppend("blood", lab), errors.ErrCodeRecordKindUnknown))
	assert.True(t, errors.IsCode(CheckAppend(clinical.KindMedication, lab), errors.ErrCodeRecordInvalid))
	assert.True(t, errors.IsCode(CheckAppend(clinical.KindLab, clinical.Record{Kind: clinical.KindLab}), errors.ErrCodeRecordInvalid))
}

func TestSessionContext(t *testing.T) {
	assert.Equal(t, "", SessionFrom(context.Background()))
	assert.Equal(t, "sess-1", SessionFrom(WithSession(context.Background(), "sess-1")))
}

//Personal.AI order the ending
