package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/analysis"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// --- Mock Pattern Service ---

type mockPatternService struct {
	mock.Mock
}

func (m *mockPatternService) AnalyzeLabs(ctx context.Context, labs map[string]clinical.LabValue) ([]labpattern.Match, error) {
	args := m.Called(ctx, labs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]labpattern.Match), args.Error(1)
}

func (m *mockPatternService) GetPattern(id string) (*labpattern.Pattern, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*labpattern.Pattern), args.Error(1)
}

func (m *mockPatternService) GetPatternsByCategory(category string) []labpattern.Pattern {
	args := m.Called(category)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]labpattern.Pattern)
}

func (m *mockPatternService) Categories() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

func (m *mockPatternService) Patterns() []labpattern.Pattern {
	args := m.Called()
	return args.Get(0).([]labpattern.Pattern)
}

func (m *mockPatternService) RecentMatches(ctx context.Context, n int) ([]*analysis.Analysis, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*analysis.Analysis), args.Error(1)
}

func newTestPatternRouter() (http.Handler, *mockPatternService) {
	svc := new(mockPatternService)
	h := NewPatternHandler(svc, nil)
	r := chi.NewRouter()
	r.Post("/labs/analyze", h.Analyze)
	r.Get("/labs/matches/recent", h.Recent)
	r.Get("/patterns", h.List)
	r.Get("/patterns/categories", h.Categories)
	r.Get("/patterns/{patternID}", h.Get)
	return r, svc
}

var siadh = labpattern.Pattern{ID: "siadh", Name: "SIADH", Category: "Electrolyte", Severity: labpattern.SeverityModerate}

func TestAnalyze_Success(t *testing.T) {
	h, svc := newTestPatternRouter()
	svc.On("AnalyzeLabs", mock.Anything, mock.MatchedBy(func(labs map[string]clinical.LabValue) bool {
		v, ok := labs["Sodium"]
		f, isNum := v.Float()
		return ok && isNum && f == 128 && len(labs) == 2
	})).Return([]labpattern.Match{{Pattern: siadh, Confidence: 0.8}}, nil).Once()

	rec := do(t, h, http.MethodPost, "/labs/analyze", `{"labs":{"Sodium":128,"Urine Osmolality":"450"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.LabCount)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "siadh", resp.Matches[0].Pattern.ID)
	svc.AssertExpectations(t)
}

func TestAnalyze_NoMatchesIsEmptyList(t *testing.T) {
	h, svc := newTestPatternRouter()
	svc.On("AnalyzeLabs", mock.Anything, mock.Anything).Return(nil, nil).Once()

	rec := do(t, h, http.MethodPost, "/labs/analyze", `{"labs":{"Sodium":140}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matches":[]`)
}

func TestAnalyze_EmptyLabs(t *testing.T) {
	h, svc := newTestPatternRouter()

	for _, body := range []string{`{"labs":{}}`, `{}`} {
		rec := do(t, h, http.MethodPost, "/labs/analyze", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, errors.ErrCodeLabsEmpty.String(), decodeError(t, rec).Code)
	}
	svc.AssertNotCalled(t, "AnalyzeLabs", mock.Anything, mock.Anything)
}

func TestGetPattern(t *testing.T) {
	h, svc := newTestPatternRouter()
	svc.On("GetPattern", "siadh").Return(&siadh, nil).Once()
	svc.On("GetPattern", "nope").Return(nil, errors.New(errors.ErrCodePatternNotFound, "lab pattern not found").WithDetail("nope")).Once()

	rec := do(t, h, http.MethodGet, "/patterns/siadh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var p labpattern.Pattern
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Electrolyte", p.Category)

	rec = do(t, h, http.MethodGet, "/patterns/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.ErrCodePatternNotFound.String(), decodeError(t, rec).Code)
}

func TestListPatterns(t *testing.T) {
	h, svc := newTestPatternRouter()
	svc.On("Patterns").Return([]labpattern.Pattern{siadh}).Once()
	svc.On("GetPatternsByCategory", "renal").Return(nil).Once()

	rec := do(t, h, http.MethodGet, "/patterns", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, h, http.MethodGet, "/patterns?category=renal", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"patterns":[]`)
}

func TestCategories(t *testing.T) {
	h, svc := newTestPatternRouter()
	svc.On("Categories").Return([]string{"Electrolyte", "Renal"}).Once()

	rec := do(t, h, http.MethodGet, "/patterns/categories", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"categories":["Electrolyte","Renal"]}`, rec.Body.String())
}

func TestRecentMatches(t *testing.T) {
	h, svc := newTestPatternRouter()
	at := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	svc.On("RecentMatches", mock.Anything, 3).Return([]*analysis.Analysis{{ID: "a1", Source: analysis.SourceStored, SessionID: "s", AnalyzedAt: at}}, nil).Once()
	svc.On("RecentMatches", mock.Anything, defaultListLimit).Return(nil, errors.New(errors.ErrCodeCacheError, "redis down")).Once()

	rec := do(t, h, http.MethodGet, "/labs/matches/recent?limit=3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"a1"`)

	rec = do(t, h, http.MethodGet, "/labs/matches/recent", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

//Personal.AI order the ending
