package importing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/doc_classifier"
	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

// scriptedExtractor returns a fixed extraction.  With block set it waits for
// ctx like a stalled LLM call; with panicMsg set it panics.
type scriptedExtractor struct {
	ext      *clinical.RecordExtraction
	block    bool
	panicMsg string

	mu    sync.Mutex
	calls int
}

func (s *scriptedExtractor) Extract(ctx context.Context, _ string, docType clinical.DocumentType) (*clinical.RecordExtraction, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.block {
		<-ctx.Done()
		return clinical.NewEmptyExtraction(docType, "timed out"),
			errors.Wrap(ctx.Err(), errors.ErrCodeExtractionTimeout, "extraction timed out")
	}
	return s.ext, nil
}

func (s *scriptedExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// failingStore fails every Append after the first okAppends.
type failingStore struct {
	*record.MemoryStore
	okAppends int
	appends   int
}

func (f *failingStore) Append(ctx context.Context, kind clinical.RecordKind, rec clinical.Record) (string, error) {
	f.appends++
	if f.appends > f.okAppends {
		return "", errors.New(errors.ErrCodeRecordWriteFailed, "disk full")
	}
	return f.MemoryStore.Append(ctx, kind, rec)
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	checks      map[dedup.Recommendation]int
	imports     []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{checks: map[dedup.Recommendation]int{}}
}

func (m *recordingMetrics) RecordTransition(from, to State) {
	m.mu.Lock()
	m.transitions = append(m.transitions, string(from)+">"+string(to))
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordDuplicateCheck(_ clinical.RecordKind, rec dedup.Recommendation) {
	m.mu.Lock()
	m.checks[rec]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordImport(outcome string, _, _ int, _ time.Duration) {
	m.mu.Lock()
	m.imports = append(m.imports, outcome)
	m.mu.Unlock()
}

var jan15 = testutil.Day(2024, time.January, 15)

func sodium(value float64, at time.Time) clinical.Record {
	return clinical.NewLabRecord(testutil.Lab("Sodium", value, "mmol/L", at))
}

// sampleExtraction holds two labs and one medication.
func sampleExtraction() *clinical.RecordExtraction {
	ext := clinical.NewEmptyExtraction(clinical.DocumentLabReport)
	ext.Labs = []clinical.LabResult{
		testutil.Lab("Sodium", 128, "mmol/L", jan15),
		testutil.Lab("Potassium", 4.1, "mmol/L", jan15),
	}
	ext.Medications = []clinical.Medication{{Name: "Lisinopril", Dosage: "10 mg", Frequency: "daily"}}
	ext.Confidence = 0.9
	return ext
}

func newPipeline(ext Extractor, store record.Store, metrics Metrics) Pipeline {
	return Pipeline{
		Classifier: doc_classifier.NewClassifier(doc_classifier.DefaultMinSignal),
		Extractor:  ext,
		Checker:    dedup.NewDetector(dedup.DefaultConfig(), nil),
		Store:      store,
		Metrics:    metrics,
	}
}

func newTestOrchestrator(text string, pipe Pipeline, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testutil.Day(2024, time.June, 1) }
	}
	return NewOrchestrator("sess-1", text, pipe, cfg, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// Happy path
// ─────────────────────────────────────────────────────────────────────────────

func TestOrchestrator_RunImportsEverything(t *testing.T) {
	store := record.NewMemoryStore()
	metrics := newRecordingMetrics()
	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, metrics), OrchestratorConfig{})

	var mu sync.Mutex
	var states []State
	var progress []int
	o.OnChange(func(st *Status) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != st.State {
			states = append(states, st.State)
		}
		progress = append(progress, st.Progress)
	})

	summary, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.True(t, summary.Complete)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Imported[clinical.KindLab])
	assert.Equal(t, 1, summary.Imported[clinical.KindMedication])
	assert.Zero(t, summary.SkippedTotal())
	assert.Len(t, summary.RecordIDs, 3)
	for _, key := range []string{"lab:0", "lab:1", "medication:0"} {
		assert.NotEmpty(t, summary.RecordIDs[key], key)
	}

	st := o.Status()
	assert.Equal(t, StateComplete, st.State)
	assert.Equal(t, ProgressComplete, st.Progress)
	assert.Equal(t, clinical.DocumentLabReport, st.DocumentType)
	assert.Empty(t, st.Error)

	assert.Equal(t, []State{StateParsing, StateReviewing, StateCheckingDuplicates, StateImporting, StateComplete}, states)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress never moves backwards")
	}

	stored, err := store.Query(context.Background(), clinical.KindLab, record.Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "sess-1", stored[0].SourceSession)

	assert.Equal(t, 3, metrics.checks[dedup.RecommendImport])
	assert.Equal(t, []string{"complete"}, metrics.imports)
	assert.Contains(t, metrics.transitions, "importing>complete")
}

func TestOrchestrator_SecondImportOfSameDocumentSkipsEverything(t *testing.T) {
	store := record.NewMemoryStore()
	pipe := newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, nil)

	_, err := newTestOrchestrator(testutil.SampleLabReport, pipe, OrchestratorConfig{}).Run(context.Background(), nil)
	require.NoError(t, err)

	again := NewOrchestrator("sess-2", testutil.SampleLabReport, pipe, OrchestratorConfig{}, nil)
	summary, err := again.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, summary.ImportedTotal())
	assert.Equal(t, 3, summary.SkippedTotal())
	assert.Empty(t, summary.RecordIDs)
	assert.Equal(t, 2, store.Len(clinical.KindLab))
	assert.Equal(t, 1, store.Len(clinical.KindMedication))
	for _, c := range again.Status().Duplicates {
		assert.Equal(t, dedup.RecommendSkip, c.Recommendation, c.Key)
		assert.Equal(t, DecisionSkip, c.Decision, c.Key)
	}
}

func TestOrchestrator_LowConfidenceStillReachesReview(t *testing.T) {
	ext := clinical.NewEmptyExtraction(clinical.DocumentUnknown, "The extraction service is unavailable; no records were extracted.")
	o := newTestOrchestrator("scribbles", newPipeline(&scriptedExtractor{ext: ext}, record.NewMemoryStore(), nil), OrchestratorConfig{})

	require.NoError(t, o.Parse(context.Background()))
	st := o.Status()
	assert.Equal(t, StateReviewing, st.State)
	assert.Equal(t, ProgressReviewing, st.Progress)
	assert.Zero(t, st.Extraction.Confidence)
	assert.Len(t, st.Extraction.Warnings, 1)

	require.NoError(t, o.CheckDuplicates(context.Background()))
	summary, err := o.Import(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, summary.Complete)
	assert.Zero(t, summary.Total)
	assert.Equal(t, StateComplete, o.State())
}

// ─────────────────────────────────────────────────────────────────────────────
// Review decisions
// ─────────────────────────────────────────────────────────────────────────────

func TestOrchestrator_NeedsReviewRequiresDecision(t *testing.T) {
	store := record.NewMemoryStore()
	// Same test and value three days later: needs review.
	_, err := store.Append(context.Background(), clinical.KindLab, sodium(128, jan15.AddDate(0, 0, 3)))
	require.NoError(t, err)

	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, nil), OrchestratorConfig{})
	require.NoError(t, o.Parse(context.Background()))
	require.NoError(t, o.CheckDuplicates(context.Background()))

	st := o.Status()
	assert.Equal(t, []string{"lab:0"}, st.PendingReview)
	require.Len(t, st.Duplicates, 3)
	assert.Equal(t, dedup.RecommendReview, st.Duplicates[0].Recommendation)
	require.NotEmpty(t, st.Duplicates[0].Matches)
	assert.Equal(t, dedup.VerdictNeedsReview, st.Duplicates[0].Matches[0].Verdict)

	summary, err := o.Import(context.Background(), nil)
	assert.Nil(t, summary)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDecisionRequired))
	assert.Equal(t, StateCheckingDuplicates, o.State(), "session stays open")

	_, err = o.Import(context.Background(), Decisions{"lab:7": DecisionImport})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidDecision))
	_, err = o.Import(context.Background(), Decisions{"lab:0": "maybe"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidDecision))
	assert.Equal(t, StateCheckingDuplicates, o.State())

	summary, err = o.Import(context.Background(), Decisions{"lab:0": DecisionSkip})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped[clinical.KindLab])
	assert.Equal(t, 1, summary.Imported[clinical.KindLab])
	assert.Equal(t, 1, summary.Imported[clinical.KindMedication])
	assert.NotContains(t, summary.RecordIDs, "lab:0")
	assert.Contains(t, summary.RecordIDs, "lab:1")
	assert.Equal(t, StateComplete, o.State())
	assert.Empty(t, o.Status().PendingReview)
}

func TestOrchestrator_ExplicitDecisionOverridesRecommendation(t *testing.T) {
	store := record.NewMemoryStore()
	_, err := store.Append(context.Background(), clinical.KindLab, sodium(128, jan15))
	require.NoError(t, err)

	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, nil), OrchestratorConfig{})
	require.NoError(t, o.Parse(context.Background()))
	require.NoError(t, o.CheckDuplicates(context.Background()))
	assert.Equal(t, dedup.RecommendSkip, o.Status().Duplicates[0].Recommendation)

	summary, err := o.Import(context.Background(), Decisions{"lab:0": DecisionImport})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Imported[clinical.KindLab])
	assert.Equal(t, 3, store.Len(clinical.KindLab))
}

func TestOrchestrator_RunResolvesReviewThroughDecide(t *testing.T) {
	store := record.NewMemoryStore()
	_, err := store.Append(context.Background(), clinical.KindLab, sodium(128, jan15.AddDate(0, 0, 3)))
	require.NoError(t, err)

	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, nil), OrchestratorConfig{})
	var seen []string
	summary, err := o.Run(context.Background(), func(_ context.Context, pending []RecordCheck) (Decisions, error) {
		d := Decisions{}
		for _, c := range pending {
			seen = append(seen, c.Key)
			d[c.Key] = DecisionImport
		}
		return d, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lab:0"}, seen)
	assert.Equal(t, 3, summary.ImportedTotal())
}

func TestOrchestrator_UndatedStoredRecordIsChecked(t *testing.T) {
	store := record.NewMemoryStore()
	_, err := store.Append(context.Background(), clinical.KindMedication,
		clinical.NewMedicationRecord(clinical.Medication{Name: "Lisinopril", Dosage: "10 mg", Frequency: "daily"}))
	require.NoError(t, err)

	ext := sampleExtraction()
	ext.Medications[0].StartDate = testutil.DayPtr(2024, 1, 10)
	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: ext}, store, nil), OrchestratorConfig{CandidateWindowDays: 30})
	require.NoError(t, o.Parse(context.Background()))
	require.NoError(t, o.CheckDuplicates(context.Background()))

	st := o.Status()
	assert.Equal(t, []string{"medication:0"}, st.PendingReview)
	require.Len(t, st.Duplicates, 3)
	med := st.Duplicates[2]
	assert.Equal(t, "medication:0", med.Key)
	assert.Equal(t, dedup.RecommendReview, med.Recommendation)
	require.NotEmpty(t, med.Matches)

	_, err = o.Import(context.Background(), Decisions{"medication:0": DecisionSkip})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len(clinical.KindMedication))
}

// ─────────────────────────────────────────────────────────────────────────────
// Failures
// ─────────────────────────────────────────────────────────────────────────────

func TestOrchestrator_EmptyDocument(t *testing.T) {
	ext := &scriptedExtractor{ext: sampleExtraction()}
	o := newTestOrchestrator("  \n\t ", newPipeline(ext, record.NewMemoryStore(), nil), OrchestratorConfig{})

	err := o.Parse(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeDocumentEmpty))
	st := o.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, MsgNoText, st.Error)
	assert.Equal(t, errors.ErrCodeDocumentEmpty.String(), st.ErrorCode)
	assert.Zero(t, ext.Calls(), "no extraction call for an empty document")
}

func TestOrchestrator_ExtractionTimeout(t *testing.T) {
	o := newTestOrchestrator(testutil.SampleLabReport,
		newPipeline(&scriptedExtractor{block: true}, record.NewMemoryStore(), nil),
		OrchestratorConfig{ParseTimeout: 20 * time.Millisecond})

	err := o.Parse(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeExtractionTimeout))
	st := o.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, MsgTimeout, st.Error)
	assert.Nil(t, st.Extraction)
}

func TestOrchestrator_PartialImportCountsOnlyPendingImports(t *testing.T) {
	store := &failingStore{MemoryStore: record.NewMemoryStore()}
	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, nil), OrchestratorConfig{})
	require.NoError(t, o.Parse(context.Background()))
	require.NoError(t, o.CheckDuplicates(context.Background()))

	summary, err := o.Import(context.Background(), Decisions{"medication:0": DecisionSkip})
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Zero(t, summary.ImportedTotal())
	assert.Equal(t, 2, summary.Failed, "the skipped medication is not a failure")
	assert.Equal(t, fmt.Sprintf(MsgStoreWrite, 0, 2), o.Status().Error)
}

func TestOrchestrator_PartialImportOnStoreFailure(t *testing.T) {
	store := &failingStore{MemoryStore: record.NewMemoryStore(), okAppends: 1}
	metrics := newRecordingMetrics()
	o := newTestOrchestrator(testutil.SampleLabReport, newPipeline(&scriptedExtractor{ext: sampleExtraction()}, store, metrics), OrchestratorConfig{})
	require.NoError(t, o.Parse(context.Background()))
	require.NoError(t, o.CheckDuplicates(context.Background()))

	summary, err := o.Import(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeImportPartial))
	assert.True(t, errors.IsCode(err, errors.ErrCodeRecordWriteFailed))

	require.NotNil(t, summary)
	assert.False(t, summary.Complete)
	assert.Equal(t, 1, summary.ImportedTotal())
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, map[string]string{"lab:0": summary.RecordIDs["lab:0"]}, summary.RecordIDs)

	st := o.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, fmt.Sprintf(MsgStoreWrite, 1, 3), st.Error)
	assert.Equal(t, errors.ErrCodeImportPartial.String(), st.ErrorCode)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 1, st.Summary.ImportedTotal())
	assert.Equal(t, []string{"partial"}, metrics.imports)
}

func TestOrchestrator_PanicBecomesError(t *testing.T) {
	o := newTestOrchestrator(testutil.SampleLabReport,
		newPipeline(&scriptedExtractor{panicMsg: "nil map"}, record.NewMemoryStore(), nil), OrchestratorConfig{})

	err := o.Parse(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
	st := o.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, fmt.Sprintf(MsgInternal, "parsing the document"), st.Error)
	assert.NotContains(t, st.Error, "nil map")
}

func TestOrchestrator_InvalidTransition(t *testing.T) {
	o := newTestOrchestrator(testutil.SampleLabReport,
		newPipeline(&scriptedExtractor{ext: sampleExtraction()}, record.NewMemoryStore(), nil), OrchestratorConfig{})

	err := o.CheckDuplicates(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))
	st := o.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, fmt.Sprintf(MsgInvalidTransition, StateIdle, StateCheckingDuplicates), st.Error)

	// Terminal sessions refuse everything and keep their error.
	err = o.Parse(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))
	assert.Equal(t, st.Error, o.Status().Error)

	_, err = o.Import(context.Background(), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))
}

func TestRestoreOrchestrator(t *testing.T) {
	pipe := newPipeline(&scriptedExtractor{}, record.NewMemoryStore(), nil)

	_, err := RestoreOrchestrator(&Status{SessionID: "s", State: StateParsing}, pipe, OrchestratorConfig{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionNotConfirmable))
	_, err = RestoreOrchestrator(nil, pipe, OrchestratorConfig{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionNotFound))

	o, err := RestoreOrchestrator(&Status{SessionID: "s", State: StateReviewing, Extraction: sampleExtraction()}, pipe, OrchestratorConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, o.CheckDuplicates(context.Background()))
	summary, err := o.Import(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ImportedTotal())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateParsing))
	assert.True(t, CanTransition(StateImporting, StateError))
	assert.False(t, CanTransition(StateIdle, StateImporting))
	assert.False(t, CanTransition(StateReviewing, StateParsing))
	assert.False(t, CanTransition(StateComplete, StateError))
	assert.False(t, CanTransition(StateError, StateIdle))
	assert.False(t, State("paused").IsValid())
}

//Personal.AI order the ending
