package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

func TestMemoryStore_AppendAndQuery(t *testing.T) {
	store := NewMemoryStore()
	ctx := WithSession(context.Background(), "sess-1")

	older := clinical.NewLabRecord(testutil.Lab("Sodium", 138, "mmol/L", testutil.Day(2024, time.January, 1)))
	newer := clinical.NewLabRecord(testutil.Lab("Sodium", 130, "mmol/L", testutil.Day(2024, time.March, 1)))
	other := clinical.NewLabRecord(testutil.Lab("Potassium", 4.1, "mmol/L", testutil.Day(2024, time.February, 1)))

	for _, r := range []clinical.Record{older, newer, other} {
		id, err := store.Append(ctx, clinical.KindLab, r)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	assert.Equal(t, 3, store.Len(clinical.KindLab))

	all, err := store.Query(context.Background(), clinical.KindLab, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Sodium", all[0].Record.Name())
	assert.Equal(t, testutil.Day(2024, time.March, 1), all[0].Record.Date())
	assert.Equal(t, "sess-1", all[0].SourceSession)

	sodium, err := store.Query(context.Background(), clinical.KindLab, Filter{Name: "sodium", Limit: 1})
	require.NoError(t, err)
	require.Len(t, sodium, 1)
	assert.Equal(t, testutil.Day(2024, time.March, 1), sodium[0].Record.Date())

	meds, err := store.Query(context.Background(), clinical.KindMedication, Filter{})
	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestMemoryStore_RejectsMismatchedKind(t *testing.T) {
	store := NewMemoryStore()
	lab := clinical.NewLabRecord(testutil.Lab("Sodium", 138, "mmol/L", testutil.Day(2024, time.January, 1)))

	_, err := store.Append(context.Background(), clinical.KindMedication, lab)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRecordInvalid))

	_, err = store.Query(context.Background(), clinical.RecordKind("note"), Filter{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeRecordKindUnknown))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Append(ctx, clinical.KindLab, clinical.NewLabRecord(testutil.Lab("Sodium", 1, "", testutil.Day(2024, 1, 1))))
	assert.True(t, errors.IsCode(err, errors.ErrCodeRecordWriteFailed))
}

//Personal.AI order the ending
