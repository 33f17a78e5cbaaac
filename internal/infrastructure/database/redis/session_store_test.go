package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	pkgerrors "github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

func TestSessionStore_RoundTrip(t *testing.T) {
	mr, client := newMiniClient(t)
	store := NewSessionStore(client, time.Hour)
	ctx := context.Background()

	jan15 := testutil.Day(2024, time.January, 15)
	status := &importing.Status{
		SessionID:    "s1",
		State:        importing.StateReviewing,
		Progress:     importing.ProgressReviewing,
		DocumentType: clinical.DocumentLabReport,
		Extraction: &clinical.RecordExtraction{
			DocumentType: clinical.DocumentLabReport,
			Labs:         []clinical.LabResult{testutil.LabLiteral("Hemoglobin", "14.20", "g/dL", jan15)},
			Confidence:   0.9,
		},
		PendingReview: []string{"lab:0"},
		CreatedAt:     jan15,
		UpdatedAt:     jan15,
	}
	require.NoError(t, store.Save(ctx, status))
	assert.Equal(t, time.Hour, mr.TTL("keymed:session:s1"))

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, importing.StateReviewing, got.State)
	assert.Equal(t, []string{"lab:0"}, got.PendingReview)
	require.NotNil(t, got.Extraction)
	require.Len(t, got.Extraction.Labs, 1)
	assert.Equal(t, "14.20", got.Extraction.Labs[0].Value.String())
	assert.True(t, jan15.Equal(got.CreatedAt))
}

func TestSessionStore_Expiry(t *testing.T) {
	mr, client := newMiniClient(t)
	store := NewSessionStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &importing.Status{SessionID: "s1", State: importing.StateParsing}))
	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "s1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeSessionNotFound))
}

func TestSessionStore_Validation(t *testing.T) {
	_, client := newMiniClient(t)
	store := NewSessionStore(client, 0)
	err := store.Save(context.Background(), &importing.Status{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))
}

func TestSessionStore_Corrupt(t *testing.T) {
	mr, client := newMiniClient(t)
	require.NoError(t, mr.Set("keymed:session:bad", "{"))
	_, err := NewSessionStore(client, time.Hour).Load(context.Background(), "bad")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

//Personal.AI order the ending
