package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/analysis"
	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/dedup"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	prominfra "github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyMed-Intelligence/internal/intelligence/doc_classifier"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

type fixedExtractor struct{}

func (fixedExtractor) Extract(_ context.Context, _ string, docType clinical.DocumentType) (*clinical.RecordExtraction, error) {
	ext := clinical.NewEmptyExtraction(docType)
	collected := testutil.Day(2024, time.January, 15)
	ext.Labs = []clinical.LabResult{
		testutil.Lab("Sodium", 128, "mmol/L", collected),
		testutil.Lab("Potassium", 4.1, "mmol/L", collected),
	}
	ext.Confidence = 0.9
	return ext, nil
}

type RouterSuite struct {
	suite.Suite
	imports   *importing.Service
	collector prominfra.MetricsCollector
	router    http.Handler
}

func (s *RouterSuite) SetupTest() {
	collector, err := prominfra.NewMetricsCollector(prominfra.CollectorConfig{Namespace: "keymed", Subsystem: "test"}, nil)
	s.Require().NoError(err)
	metrics := prominfra.NewAppMetrics(collector)
	s.collector = collector

	store := record.NewMemoryStore()
	classifier := doc_classifier.NewClassifier(doc_classifier.DefaultMinSignal)
	s.imports, err = importing.NewService(importing.Deps{
		Pipeline: importing.Pipeline{
			Classifier: classifier,
			Extractor:  fixedExtractor{},
			Checker:    dedup.NewDetector(dedup.DefaultConfig(), nil),
			Store:      store,
			Metrics:    metrics,
		},
	}, importing.ServiceConfig{ParseTimeout: time.Second}, nil)
	s.Require().NoError(err)

	lib := labpattern.NewLibrary(labpattern.BuiltinPatterns(), nil)
	patterns, err := analysis.NewService(labpattern.NewMatcher(lib, labpattern.DefaultMatcherConfig(), nil), analysis.Config{}, nil,
		analysis.WithMetrics(metrics))
	s.Require().NoError(err)

	s.router = NewRouter(RouterConfig{
		ImportHandler:      handlers.NewImportHandler(s.imports, classifier, nil),
		PatternHandler:     handlers.NewPatternHandler(patterns, nil),
		HealthHandler:      handlers.NewHealthHandler("test"),
		MaxBodySize:        1 << 10,
		RateLimitPerSecond: 1000,
		Logger:             testutil.NewMockLogger(),
		MetricsCollector:   collector,
		AppMetrics:         metrics,
	})
}

func (s *RouterSuite) TearDownTest() {
	s.imports.Close()
}

func (s *RouterSuite) request(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *RouterSuite) TestImportLifecycle() {
	body, err := json.Marshal(handlers.SubmitRequest{Text: testutil.SampleLabReport})
	s.Require().NoError(err)
	rec := s.request(http.MethodPost, "/api/v1/imports", string(body))
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())
	var submitted handlers.SubmitResponse
	s.decode(rec, &submitted)
	s.Equal("/api/v1/imports/"+submitted.SessionID, submitted.StatusURL)

	s.imports.Wait()

	rec = s.request(http.MethodGet, submitted.StatusURL, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var status struct {
		State importing.State `json:"state"`
	}
	s.decode(rec, &status)
	s.Equal(importing.StateReviewing, status.State)

	rec = s.request(http.MethodPost, submitted.StatusURL+"/confirm", "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var summary importing.ImportSummary
	s.decode(rec, &summary)
	s.True(summary.Complete)
	s.Equal(2, summary.ImportedTotal())

	rec = s.request(http.MethodPost, submitted.StatusURL+"/confirm", "")
	s.Equal(http.StatusConflict, rec.Code, "a completed session cannot be confirmed again")

	rec = s.request(http.MethodGet, "/api/v1/imports?limit=5", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), submitted.SessionID)
}

func (s *RouterSuite) TestUnknownSession() {
	rec := s.request(http.MethodGet, "/api/v1/imports/does-not-exist", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestAnalyzeLabs() {
	rec := s.request(http.MethodPost, "/api/v1/labs/analyze", `{"labs":{"Sodium":130,"BUN/Creatinine Ratio":25}}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var resp handlers.AnalyzeResponse
	s.decode(rec, &resp)
	s.Equal(2, resp.LabCount)
	s.Require().NotEmpty(resp.Matches)
	s.Equal("hypovolemic-hyponatremia", resp.Matches[0].Pattern.ID)

	rec = s.request(http.MethodGet, "/api/v1/labs/matches/recent", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "hypovolemic-hyponatremia")
}

func (s *RouterSuite) TestAnalyzeLabs_Empty() {
	rec := s.request(http.MethodPost, "/api/v1/labs/analyze", `{"labs":{}}`)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "PTN_004")
}

func (s *RouterSuite) TestPatternLibrary() {
	rec := s.request(http.MethodGet, "/api/v1/patterns/hypovolemic-hyponatremia", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var p labpattern.Pattern
	s.decode(rec, &p)
	s.Equal("hypovolemic-hyponatremia", p.ID)

	rec = s.request(http.MethodGet, "/api/v1/patterns/categories", "")
	s.Require().Equal(http.StatusOK, rec.Code, "categories must not be captured by the {patternID} route")
	var cats struct {
		Categories []string `json:"categories"`
	}
	s.decode(rec, &cats)
	s.NotEmpty(cats.Categories)

	rec = s.request(http.MethodGet, "/api/v1/patterns", "")
	s.Equal(http.StatusOK, rec.Code)

	rec = s.request(http.MethodGet, "/api/v1/patterns/no-such-pattern", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestBodyLimit() {
	big := `{"text":"` + strings.Repeat("x", 4<<10) + `"}`
	rec := s.request(http.MethodPost, "/api/v1/imports", big)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestProbesAndMetrics() {
	s.Equal(http.StatusOK, s.request(http.MethodGet, "/healthz", "").Code)
	s.Equal(http.StatusOK, s.request(http.MethodGet, "/readyz", "").Code)
	s.Equal(http.StatusOK, s.request(http.MethodGet, "/healthz/detail", "").Code)

	s.request(http.MethodGet, "/api/v1/patterns", "")
	rec := s.request(http.MethodGet, "/metrics", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `keymed_test_http_requests_total{method="GET",path="/api/v1/patterns`)
}

func (s *RouterSuite) TestUnknownRoute() {
	s.Equal(http.StatusNotFound, s.request(http.MethodGet, "/api/v1/molecules", "").Code)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func TestNewRouter_NilHandlers(t *testing.T) {
	router := NewRouter(RouterConfig{})
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil))
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServer(t *testing.T) {
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, http.NotFoundHandler(), nil)
	assert.Equal(t, "127.0.0.1:8080", srv.Addr())
	assert.Equal(t, defaultShutdownTimeout, srv.shutdownTimeout)
	require.NotNil(t, srv.Handler())
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := NewServer(config.ServerConfig{Port: 0, ShutdownTimeout: time.Second}, http.NotFoundHandler(), nil)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

//Personal.AI order the ending
